package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/meow/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Ledger string
}

// HistoryEvent is one ledger entry in the history output.
type HistoryEvent struct {
	Seq    int64     `json:"seq"`
	JobID  string    `json:"job_id"`
	Status string    `json:"status"`
	At     time.Time `json:"at"`
	Error  string    `json:"error,omitempty"`
}

// HistoryResult holds the complete history output.
type HistoryResult struct {
	JobID  string         `json:"job_id,omitempty"`
	Jobs   int            `json:"jobs"`
	Events []HistoryEvent `json:"events"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [job-id]",
		Short: "Show the job ledger",
		Long: `Print job status changes recorded in a runner's SQLite ledger, in the
order the runner recorded them.

With a job id only that job's changes are shown.

Examples:
  meow history --ledger ./meow.db
  meow history --ledger ./meow.db 0192f0c4-7d2e-7c1a-9d1e-3f2a4b5c6d7e --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}
			return runHistory(opts, jobID, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Ledger, "ledger", "", "path to the SQLite ledger (required)")
	_ = cmd.MarkFlagRequired("ledger")

	return cmd
}

func runHistory(opts *HistoryOptions, jobID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(opts.Ledger); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "ledger not found", err)
	}
	st, err := store.Open(opts.Ledger, store.ReadOnly())
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedgerError, "failed to open ledger", err)
	}
	defer st.Close()

	events, err := st.History(ctx, jobID)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedgerError, "failed to read history", err)
	}
	records, err := st.Jobs(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeLedgerError, "failed to read jobs", err)
	}

	result := HistoryResult{JobID: jobID, Jobs: len(records), Events: []HistoryEvent{}}
	jobs := map[string]bool{}
	for _, ev := range events {
		jobs[ev.JobID] = true
		result.Events = append(result.Events, HistoryEvent{
			Seq:    ev.Seq,
			JobID:  ev.JobID,
			Status: string(ev.Status),
			At:     ev.At,
			Error:  ev.Error,
		})
	}
	if jobID != "" {
		result.Jobs = len(jobs)
	}

	return formatter.Render(result, func(w io.Writer) error {
		return writeHistoryText(w, result, opts.Verbose)
	})
}

func writeHistoryText(w io.Writer, result HistoryResult, verbose bool) error {

	if len(result.Events) == 0 {
		if result.JobID != "" {
			fmt.Fprintf(w, "No events found for job: %s\n", result.JobID)
		} else {
			fmt.Fprintln(w, "No events found.")
		}
		return nil
	}

	if result.JobID != "" {
		fmt.Fprintf(w, "History for Job: %s\n\n", result.JobID)
	}
	for _, ev := range result.Events {
		fmt.Fprintf(w, "  [%d] %-8s %s  %s\n", ev.Seq, ev.Status, truncateID(ev.JobID), ev.At.Format(time.RFC3339))
		if ev.Error != "" && verbose {
			fmt.Fprintf(w, "       Error: %s\n", ev.Error)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Jobs:   %d\n", result.Jobs)
	fmt.Fprintf(w, "  Events: %d\n", len(result.Events))
	return nil
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
