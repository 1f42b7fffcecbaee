package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/fentz26/dealdesk/internal/lifecycle"
	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/stream"
	"github.com/spf13/cobra"
)

var msgCmd = &cobra.Command{
	Use:   "msg",
	Short: "Manage deal messages",
}

var msgSendCmd = &cobra.Command{
	Use:   "send [deal-id] [text]",
	Short: "Send a message on a deal",
	Args:  cobra.ExactArgs(2),
	RunE:  runMsgSend,
}

var msgEditCmd = &cobra.Command{
	Use:   "edit [message-id] [text]",
	Short: "Edit a message",
	Args:  cobra.ExactArgs(2),
	RunE:  runMsgEdit,
}

var msgRmCmd = &cobra.Command{
	Use:   "rm [message-id]",
	Short: "Delete a message",
	Args:  cobra.ExactArgs(1),
	RunE:  runMsgRm,
}

var sayCmd = &cobra.Command{
	Use:   "say [deal-id] [text...]",
	Short: "Submit an input line: a message, or a task when it starts with the marker",
	Long: `Submits text as if typed into the deal's input box. Text starting with the
task marker (default '#') becomes a task: the first line is the title and
further lines become subtasks. Anything else is sent as a message.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSay,
}

var streamCmd = &cobra.Command{
	Use:   "stream [deal-id]",
	Short: "Print a deal's activity stream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return printStream(args[0])
	},
}

var (
	msgFromThem bool
	msgReplyTo  string
)

func init() {
	msgCmd.AddCommand(msgSendCmd, msgEditCmd, msgRmCmd)
	rootCmd.AddCommand(sayCmd, streamCmd)

	msgSendCmd.Flags().BoolVar(&msgFromThem, "them", false, "Record the message as sent by the counterpart")
	msgSendCmd.Flags().StringVar(&msgReplyTo, "reply-to", "", "Message ID this replies to")
	addYesFlag(msgRmCmd)
}

func runMsgSend(cmd *cobra.Command, args []string) error {
	isMe := !msgFromThem
	body := map[string]any{"text": args[1], "is_me": isMe, "reply_to_id": msgReplyTo}
	var m models.Message
	ok, err := apiSend("POST", "/deals/"+url.PathEscape(args[0])+"/messages", body, &m)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Println("Nothing to send")
		return nil
	}
	fmt.Printf("Sent message: %s\n", m.ID)
	return nil
}

func runMsgEdit(cmd *cobra.Command, args []string) error {
	ok, err := apiSend("PATCH", "/messages/"+url.PathEscape(args[0]), map[string]string{"text": args[1]}, nil)
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

func runMsgRm(cmd *cobra.Command, args []string) error {
	if !confirm("Delete message " + args[0] + "?") {
		return nil
	}
	ok, err := apiSend("DELETE", "/messages/"+url.PathEscape(args[0]), nil, nil)
	if err != nil {
		return err
	}
	if ok {
		fmt.Println("Deleted")
	}
	return nil
}

func runSay(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	var res struct {
		Kind    string          `json:"kind"`
		Message *models.Message `json:"message"`
		Task    *models.Task    `json:"task"`
	}
	ok, err := apiSend("POST", "/deals/"+url.PathEscape(args[0])+"/input", map[string]string{"text": text}, &res)
	if err != nil {
		return err
	}
	switch {
	case !ok:
		fmt.Println("Nothing to submit")
	case res.Task != nil:
		fmt.Printf("Created task: %s\n", res.Task.ID)
	case res.Message != nil:
		fmt.Printf("Sent message: %s\n", res.Message.ID)
	}
	return nil
}

func printStream(dealID string) error {
	var entries []stream.Entry
	if err := apiGet("/deals/"+url.PathEscape(dealID)+"/stream", &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No activity")
		return nil
	}
	for _, e := range entries {
		stamp := e.CreatedAt().Local().Format("2006-01-02 15:04")
		if e.Kind == stream.KindMessage {
			who := "them"
			if e.Message.IsMe {
				who = "you"
			}
			fmt.Printf("%s  %-4s  %s\n", stamp, who, e.Message.Text)
			continue
		}
		t := e.Task
		fmt.Printf("%s  task  [%s] %s (%s)\n", stamp, lifecycle.State(t), t.Text, truncateID(t.ID))
		for i, sub := range lifecycle.DisplaySubtasks(t) {
			box := "[ ]"
			if sub.IsDone {
				box = "[x]"
			}
			fmt.Printf("                        %d. %s %s\n", i+1, box, sub.Text)
		}
	}
	return nil
}
