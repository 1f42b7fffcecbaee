package main

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fentz26/dealdesk/internal/lifecycle"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/spf13/cobra"
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks",
}

var taskAddCmd = &cobra.Command{
	Use:   "add [text]",
	Short: "Add a new task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	RunE:  runTaskList,
}

var taskShowCmd = &cobra.Command{
	Use:   "show [task-id]",
	Short: "Show task details",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskShow,
}

var taskDoneCmd = &cobra.Command{
	Use:   "done [task-id]",
	Short: "Complete a task, or reopen a completed one",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskDone,
}

var taskProgressCmd = &cobra.Command{
	Use:   "progress [task-id]",
	Short: "Toggle a task's in-progress flag",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskProgress,
}

var taskSubtaskCmd = &cobra.Command{
	Use:   "subtask [task-id] [number]",
	Short: "Toggle a checklist item (numbered from 1)",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskSubtask,
}

var taskEditCmd = &cobra.Command{
	Use:   "edit [task-id] [text]",
	Short: "Replace a task's text",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskEdit,
}

var taskDueCmd = &cobra.Command{
	Use:   "due [task-id] [YYYY-MM-DD|none]",
	Short: "Set or clear a task's due date",
	Args:  cobra.ExactArgs(2),
	RunE:  runTaskDue,
}

var taskRmCmd = &cobra.Command{
	Use:   "rm [task-id]",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskRm,
}

var (
	taskDeal     string
	taskAssignee string
	taskSubtasks []string
	taskDue      string
	taskComment  string
	taskGlobal   bool
	taskOpen     bool
)

func init() {
	taskCmd.AddCommand(taskAddCmd, taskListCmd, taskShowCmd, taskDoneCmd, taskProgressCmd,
		taskSubtaskCmd, taskEditCmd, taskDueCmd, taskRmCmd)

	taskAddCmd.Flags().StringVar(&taskDeal, "deal", "", "Deal ID (empty for a global task)")
	taskAddCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Assignee (defaults to the configured one)")
	taskAddCmd.Flags().StringArrayVar(&taskSubtasks, "subtask", nil, "Checklist item; repeat for more")
	taskAddCmd.Flags().StringVar(&taskDue, "due", "", "Due date (YYYY-MM-DD)")

	taskListCmd.Flags().StringVar(&taskDeal, "deal", "", "Filter by deal ID")
	taskListCmd.Flags().StringVar(&taskAssignee, "assignee", "", "Filter by assignee")
	taskListCmd.Flags().BoolVar(&taskGlobal, "global", false, "Only tasks without a deal")
	taskListCmd.Flags().BoolVar(&taskOpen, "open", false, "Only tasks that are not done")

	taskDoneCmd.Flags().StringVar(&taskComment, "comment", "", "Completion comment")
	addYesFlag(taskRmCmd)
}

func parseDue(s string) (*time.Time, error) {
	if s == "" || strings.EqualFold(s, "none") {
		return nil, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q: want YYYY-MM-DD", s)
	}
	return &t, nil
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	due, err := parseDue(taskDue)
	if err != nil {
		return err
	}
	body := map[string]any{
		"text":     args[0],
		"deal_id":  taskDeal,
		"assignee": taskAssignee,
		"subtasks": taskSubtasks,
		"due_date": due,
	}
	var task models.Task
	ok, err := apiSend("POST", "/tasks", body, &task)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Nothing to create")
		return nil
	}
	fmt.Printf("Created task: %s\n", task.ID)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	if taskDeal != "" {
		q.Set("deal_id", taskDeal)
	}
	if taskAssignee != "" {
		q.Set("assignee", taskAssignee)
	}
	if taskGlobal {
		q.Set("global", "1")
	}
	if taskOpen {
		q.Set("open", "1")
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []models.Task
	if err := apiGet(path, &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks found")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTEXT\tSTATE\tASSIGNEE\tDUE\tDEAL")
	for i := range tasks {
		t := &tasks[i]
		due := ""
		if t.DueDate != nil {
			due = t.DueDate.Local().Format("2006-01-02")
			if lifecycle.IsOverdue(t, now) {
				due += " (overdue)"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(t.ID), t.Text, lifecycle.State(t), t.Assignee, due, truncateID(t.DealID))
	}
	return w.Flush()
}

func runTaskShow(cmd *cobra.Command, args []string) error {
	var t models.Task
	if err := apiGet("/tasks/"+url.PathEscape(args[0]), &t); err != nil {
		return err
	}
	fmt.Printf("ID:        %s\n", t.ID)
	fmt.Printf("Text:      %s\n", t.Text)
	fmt.Printf("State:     %s\n", lifecycle.State(&t))
	fmt.Printf("Assignee:  %s\n", t.Assignee)
	if t.DealID != "" {
		fmt.Printf("Deal:      %s\n", t.DealID)
	}
	if t.DueDate != nil {
		fmt.Printf("Due:       %s\n", t.DueDate.Local().Format("2006-01-02"))
	}
	if t.CompletedAt != nil {
		fmt.Printf("Completed: %s\n", t.CompletedAt.Local().Format("2006-01-02 15:04"))
	}
	if t.CompletionComment != "" {
		fmt.Printf("Comment:   %s\n", t.CompletionComment)
	}
	for i, sub := range lifecycle.DisplaySubtasks(&t) {
		box := "[ ]"
		if sub.IsDone {
			box = "[x]"
		}
		fmt.Printf("  %d. %s %s\n", i+1, box, sub.Text)
	}
	return nil
}

func taskAction(id, action string, body any) error {
	ok, err := apiSend("POST", "/tasks/"+url.PathEscape(id)+"/"+action, body, nil)
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

func runTaskDone(cmd *cobra.Command, args []string) error {
	return taskAction(args[0], "done", map[string]string{"comment": taskComment})
}

func runTaskProgress(cmd *cobra.Command, args []string) error {
	return taskAction(args[0], "progress", nil)
}

func runTaskSubtask(cmd *cobra.Command, args []string) error {
	n, err := strconv.Atoi(args[1])
	if err != nil || n < 1 {
		return fmt.Errorf("invalid subtask number %q", args[1])
	}
	return taskAction(args[0], "subtask", map[string]int{"index": n - 1})
}

func runTaskEdit(cmd *cobra.Command, args []string) error {
	return taskAction(args[0], "text", map[string]string{"text": args[1]})
}

func runTaskDue(cmd *cobra.Command, args []string) error {
	due, err := parseDue(args[1])
	if err != nil {
		return err
	}
	return taskAction(args[0], "due", map[string]*time.Time{"due_date": due})
}

func runTaskRm(cmd *cobra.Command, args []string) error {
	if !confirm("Delete task " + args[0] + "?") {
		return nil
	}
	ok, err := apiSend("DELETE", "/tasks/"+url.PathEscape(args[0]), nil, nil)
	if err != nil {
		return err
	}
	if ok {
		fmt.Println("Deleted")
	}
	return nil
}
