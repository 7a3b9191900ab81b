package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/recordings"
)

// NewRecordingsCmd groups the recording commands.
func NewRecordingsCmd(deps *Dependencies, flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recordings",
		Short: "Inspect recordings",
	}
	cmd.AddCommand(newRecordingsListCmd(deps, flags))
	cmd.AddCommand(newRecordingsWatchCmd(deps, flags))
	return cmd
}

func newRecordingsListCmd(deps *Dependencies, flags *globalFlags) *cobra.Command {
	var courseID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recordings, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := flags.client(deps).ListRecordings(cmd.Context(), courseID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintln(out, "No recordings found")
				return nil
			}
			for _, rec := range list {
				printRecording(out, rec)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&courseID, "course", "", "only recordings of this course")
	return cmd
}

func newRecordingsWatchCmd(deps *Dependencies, flags *globalFlags) *cobra.Command {
	var (
		interval    time.Duration
		maxInterval time.Duration
		maxPolls    int
	)
	cmd := &cobra.Command{
		Use:   "watch <recording-id>",
		Short: "Poll a recording until it is ready or failed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var b backoff.BackOff = backoff.NewConstantBackOff(interval)
			if maxInterval > interval {
				exp := backoff.NewExponentialBackOff()
				exp.InitialInterval = interval
				exp.MaxInterval = maxInterval
				b = exp
			}
			out := cmd.OutOrStdout()
			rec, err := recordings.Watch(cmd.Context(), flags.client(deps), args[0], recordings.PollPolicy{
				BackOff:  b,
				MaxPolls: maxPolls,
			}, func(r models.Recording) { printRecording(out, r) })
			switch {
			case errors.Is(err, recordings.ErrWatchCancelled):
				fmt.Fprintln(out, "watch cancelled")
				return nil
			case err != nil:
				return err
			case rec.Status == models.RecordingStatusFailed:
				return fmt.Errorf("recording %s failed: %s", rec.ID, rec.FailureReason)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().DurationVar(&maxInterval, "max-interval", 0, "grow the interval exponentially up to this value")
	cmd.Flags().IntVar(&maxPolls, "max-polls", 0, "give up after this many polls (0 = no limit)")
	return cmd
}

func printRecording(out io.Writer, rec models.Recording) {
	fmt.Fprintf(out, "%s\t%s\t%s\t%s\t%ds\t%s\n",
		rec.ID, rec.CourseID, rec.Date.Format(time.RFC3339), rec.Status, rec.Duration, rec.Title)
}
