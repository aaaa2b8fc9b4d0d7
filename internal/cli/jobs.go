package cli

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/meow/internal/job"
)

// JobsOptions holds flags for the jobs command.
type JobsOptions struct {
	*RootOptions
	Status string
}

// JobsResult is the JSON form of a job listing.
type JobsResult struct {
	Jobs   []*job.Job     `json:"jobs"`
	Counts map[string]int `json:"counts"`
}

// NewJobsCommand creates the jobs command.
func NewJobsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JobsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "jobs <jobs-dir>",
		Short: "List jobs recorded on disk",
		Long: `List the metadata of every job directory under the jobs directory,
oldest first.

Examples:
  meow jobs ./meow_jobs
  meow jobs ./meow_jobs --status failed --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Status, "status", "", "only list jobs with this status")

	return cmd
}

func runJobs(opts *JobsOptions, jobsDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Status != "" && !job.Status(opts.Status).Valid() {
		return formatter.Fail(ExitCommandError, ErrCodeInvalid, fmt.Sprintf("unknown status %q", opts.Status), nil)
	}
	if _, err := os.Stat(jobsDir); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "jobs directory not found", err)
	}

	store, err := job.NewStore(jobsDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUnreadable, "failed to open jobs directory", err)
	}
	all, err := store.List()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeUnreadable, "failed to list jobs", err)
	}

	result := JobsResult{Jobs: []*job.Job{}, Counts: map[string]int{}}
	for _, j := range all {
		if opts.Status != "" && string(j.Status) != opts.Status {
			continue
		}
		result.Jobs = append(result.Jobs, j)
		result.Counts[string(j.Status)]++
	}

	return formatter.Render(result, func(w io.Writer) error {
		return writeJobsText(w, result, opts.Verbose)
	})
}

func writeJobsText(w io.Writer, result JobsResult, verbose bool) error {
	if len(result.Jobs) == 0 {
		fmt.Fprintln(w, "No jobs found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPATTERN\tRECIPE\tPATH\tCREATED")
	for _, j := range result.Jobs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Status, j.Pattern, j.Recipe, j.Path, j.Create.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if verbose {
		for _, j := range result.Jobs {
			if j.Error != "" {
				fmt.Fprintf(w, "\n%s: %s\n", j.ID, j.Error)
			}
		}
	}

	fmt.Fprintln(w)
	for _, status := range []job.Status{job.StatusQueued, job.StatusRunning, job.StatusDone, job.StatusFailed} {
		if n := result.Counts[string(status)]; n > 0 {
			fmt.Fprintf(w, "%s: %d  ", status, n)
		}
	}
	fmt.Fprintln(w)
	return nil
}
