package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/meow/internal/model"
)

// GraphResult is the JSON form of the workflow graph.
type GraphResult struct {
	Workflow   model.Workflow `json:"workflow"`
	InputPaths []string       `json:"input_paths"`
}

// NewGraphCommand creates the graph command.
func NewGraphCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph <state-dir>",
		Short: "Show how patterns feed each other",
		Long: `Build the workflow graph of the patterns under the state directory.

For each pattern the graph lists the patterns whose outputs trigger it (<-),
the patterns its outputs trigger (->), the trigger paths no other pattern
produces (input) and the outputs no other pattern consumes (output).

Definitions that fail to load or fail their integrity check are left out.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runGraph(opts *RootOptions, stateDir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	report, err := loadStateDir(stateDir)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to load state", err)
	}

	patterns := make(map[string]*model.Pattern, len(report.Patterns))
	for name, p := range report.Patterns {
		if ok, msg := p.IntegrityCheck(); !ok {
			formatter.Debugf("Skipping pattern %s: %s", name, msg)
			continue
		}
		patterns[name] = p
	}
	for file, problem := range report.Problems {
		formatter.Debugf("Skipping %s: %v", file, problem)
	}

	wf, err := model.BuildWorkflow(patterns, nil)
	if err != nil {
		return formatter.Fail(ExitFailure, ErrCodeInvalid, "failed to build workflow", err)
	}

	return formatter.Render(GraphResult{Workflow: wf, InputPaths: wf.InputPaths()}, func(w io.Writer) error {
		if err := wf.WriteText(w); err != nil {
			return fmt.Errorf("write graph: %w", err)
		}
		return nil
	})
}
