package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/spf13/cobra"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Manage pipeline stages",
}

var stageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stages in order",
	RunE:  runStageList,
}

var stageAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Append a stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runStageAdd,
}

var stageRenameCmd = &cobra.Command{
	Use:   "rename [stage-id] [name]",
	Short: "Rename a stage",
	Args:  cobra.ExactArgs(2),
	RunE:  runStageRename,
}

var stageReorderCmd = &cobra.Command{
	Use:   "reorder [stage-id...]",
	Short: "Set the stage order; every stage must be listed once",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStageReorder,
}

var stageRmCmd = &cobra.Command{
	Use:   "rm [stage-id]",
	Short: "Delete an empty stage",
	Args:  cobra.ExactArgs(1),
	RunE:  runStageRm,
}

func init() {
	stageCmd.AddCommand(stageListCmd, stageAddCmd, stageRenameCmd, stageReorderCmd, stageRmCmd)
	addYesFlag(stageRmCmd)
}

func runStageList(cmd *cobra.Command, args []string) error {
	var stages []models.Stage
	if err := apiGet("/stages", &stages); err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tID\tNAME")
	for _, st := range stages {
		fmt.Fprintf(w, "%d\t%s\t%s\n", st.Position, st.ID, st.Name)
	}
	return w.Flush()
}

func runStageAdd(cmd *cobra.Command, args []string) error {
	var st models.Stage
	ok, err := apiSend("POST", "/stages", map[string]string{"name": args[0]}, &st)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Nothing to create")
		return nil
	}
	fmt.Printf("Created stage: %s\n", st.ID)
	return nil
}

func runStageRename(cmd *cobra.Command, args []string) error {
	if _, err := apiSend("PATCH", "/stages/"+url.PathEscape(args[0]), map[string]string{"name": args[1]}, nil); err != nil {
		return err
	}
	fmt.Println("Renamed")
	return nil
}

func runStageReorder(cmd *cobra.Command, args []string) error {
	if _, err := apiSend("POST", "/stages/reorder", map[string][]string{"ids": args}, nil); err != nil {
		return err
	}
	fmt.Println("Reordered")
	return nil
}

func runStageRm(cmd *cobra.Command, args []string) error {
	if !confirm("Delete stage " + args[0] + "?") {
		return nil
	}
	if _, err := apiSend("DELETE", "/stages/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Println("Deleted")
	return nil
}
