package main

import (
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/spf13/cobra"
)

var dealCmd = &cobra.Command{
	Use:   "deal",
	Short: "Manage deals",
}

var dealAddCmd = &cobra.Command{
	Use:   "add [title]",
	Short: "Add a new deal",
	Args:  cobra.ExactArgs(1),
	RunE:  runDealAdd,
}

var dealListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deals",
	RunE:  runDealList,
}

var dealShowCmd = &cobra.Command{
	Use:   "show [deal-id]",
	Short: "Show a deal and its activity stream",
	Args:  cobra.ExactArgs(1),
	RunE:  runDealShow,
}

var dealMoveCmd = &cobra.Command{
	Use:   "move [deal-id] [stage-id]",
	Short: "Move a deal to another stage",
	Args:  cobra.ExactArgs(2),
	RunE:  runDealMove,
}

var dealEditCmd = &cobra.Command{
	Use:   "edit [deal-id]",
	Short: "Edit a deal's title, company or value",
	Args:  cobra.ExactArgs(1),
	RunE:  runDealEdit,
}

var dealRmCmd = &cobra.Command{
	Use:   "rm [deal-id]",
	Short: "Delete a deal with its messages and tasks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDealRm,
}

var (
	dealCompany string
	dealValue   int64
	dealStage   string
	dealTitle   string
)

func init() {
	dealCmd.AddCommand(dealAddCmd, dealListCmd, dealShowCmd, dealMoveCmd, dealEditCmd, dealRmCmd)
	addYesFlag(dealRmCmd)

	dealAddCmd.Flags().StringVar(&dealCompany, "company", "", "Company name")
	dealAddCmd.Flags().Int64Var(&dealValue, "value", 0, "Deal value in cents")
	dealAddCmd.Flags().StringVar(&dealStage, "stage", "", "Stage ID (defaults to the first stage)")

	dealListCmd.Flags().StringVar(&dealStage, "stage", "", "Filter by stage ID")

	dealEditCmd.Flags().StringVar(&dealTitle, "title", "", "New title")
	dealEditCmd.Flags().StringVar(&dealCompany, "company", "", "New company")
	dealEditCmd.Flags().Int64Var(&dealValue, "value", 0, "New value in cents")
}

func runDealAdd(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"title":       args[0],
		"company":     dealCompany,
		"value_cents": dealValue,
		"stage_id":    dealStage,
	}
	var deal models.Deal
	ok, err := apiSend("POST", "/deals", body, &deal)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Nothing to create")
		return nil
	}
	fmt.Printf("Created deal: %s\n", deal.ID)
	return nil
}

func runDealList(cmd *cobra.Command, args []string) error {
	path := "/deals"
	if dealStage != "" {
		path += "?stage_id=" + url.QueryEscape(dealStage)
	}
	var (
		deals  []models.Deal
		stages []models.Stage
	)
	if err := apiGet(path, &deals); err != nil {
		return err
	}
	if err := apiGet("/stages", &stages); err != nil {
		return err
	}
	if len(deals) == 0 {
		fmt.Println("No deals found")
		return nil
	}

	names := make(map[string]string, len(stages))
	for _, st := range stages {
		names[st.ID] = st.Name
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tCOMPANY\tSTAGE\tVALUE")
	for _, d := range deals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", truncateID(d.ID), d.Title, d.Company, names[d.StageID], formatCents(d.ValueCents))
	}
	return w.Flush()
}

func runDealShow(cmd *cobra.Command, args []string) error {
	id := url.PathEscape(args[0])
	var deal models.Deal
	if err := apiGet("/deals/"+id, &deal); err != nil {
		return err
	}
	fmt.Printf("ID:       %s\n", deal.ID)
	fmt.Printf("Title:    %s\n", deal.Title)
	if deal.Company != "" {
		fmt.Printf("Company:  %s\n", deal.Company)
	}
	fmt.Printf("Value:    %s\n", formatCents(deal.ValueCents))
	fmt.Printf("Stage:    %s\n", deal.StageID)
	fmt.Printf("Created:  %s\n", deal.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Println()
	return printStream(args[0])
}

func runDealMove(cmd *cobra.Command, args []string) error {
	ok, err := apiSend("POST", "/deals/"+url.PathEscape(args[0])+"/move", map[string]string{"stage_id": args[1]}, nil)
	if err != nil {
		return err
	}
	if ok {
		fmt.Println("Moved")
	}
	return nil
}

func runDealEdit(cmd *cobra.Command, args []string) error {
	body := map[string]any{}
	if cmd.Flags().Changed("title") {
		body["title"] = dealTitle
	}
	if cmd.Flags().Changed("company") {
		body["company"] = dealCompany
	}
	if cmd.Flags().Changed("value") {
		body["value_cents"] = dealValue
	}
	ok, err := apiSend("PATCH", "/deals/"+url.PathEscape(args[0]), body, nil)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Nothing changed")
		return nil
	}
	fmt.Println("Updated")
	return nil
}

func runDealRm(cmd *cobra.Command, args []string) error {
	if !confirm("Delete deal " + args[0] + " with its messages and tasks?") {
		return nil
	}
	if _, err := apiSend("DELETE", "/deals/"+url.PathEscape(args[0]), nil, nil); err != nil {
		return err
	}
	fmt.Println("Deleted")
	return nil
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}
