package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aura-classroom/backend/internal/models"
)

// NewSessionsCmd groups the live session commands.
func NewSessionsCmd(deps *Dependencies, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Drive live sessions",
	}

	var title string
	start := &cobra.Command{
		Use:   "start <course-id>",
		Short: "Start a live session for a course",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := flags.client(deps).StartSession(cmd.Context(), args[0], title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", sess.ID, sess.Status)
			return nil
		},
	}
	start.Flags().StringVar(&title, "title", "", "session title")

	var payload string
	action := &cobra.Command{
		Use:   "action <session-id> <type>",
		Short: "Submit a classroom action (share_screen, insert_question, open_chat, toggle_recording)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw json.RawMessage
			if payload != "" {
				raw = json.RawMessage(payload)
			}
			ev, err := flags.client(deps).SubmitAction(cmd.Context(), args[0], models.EventType(args[1]), raw)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d\t%s\t%s\n", ev.Seq, ev.Type, ev.Timestamp.Format(time.RFC3339Nano))
			return nil
		},
	}
	action.Flags().StringVar(&payload, "payload", "", "JSON payload")

	end := &cobra.Command{
		Use:   "end <session-id>",
		Short: "End a live session and print its recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := flags.client(deps).EndSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s\t%s\n", res.Session.ID, res.Session.Status)
			if res.Recording != nil {
				printRecording(out, *res.Recording)
			}
			return nil
		},
	}

	events := &cobra.Command{
		Use:   "events <session-id>",
		Short: "Print a session's event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := flags.client(deps).SessionEvents(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, ev := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", ev.Timestamp.Format(time.RFC3339Nano), ev.Type, string(ev.Payload))
			}
			return nil
		},
	}

	cmd.AddCommand(start, action, end, events)
	return cmd
}
