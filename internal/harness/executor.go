package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/meow/internal/engine"
	"github.com/roach88/meow/internal/job"
)

// Recipe actions understood by the in-process executor.
const (
	ActionCopy  = "copy"
	ActionTouch = "touch"
	ActionFail  = "fail"
)

// errActionFailed is what a fail recipe reports.
var errActionFailed = errors.New("recipe requested failure")

func recipeAction(payload map[string]any) (string, error) {
	action, _ := payload["action"].(string)
	switch action {
	case ActionCopy, ActionTouch, ActionFail:
		return action, nil
	case "":
		return "", fmt.Errorf("recipe payload has no action")
	default:
		return "", fmt.Errorf("unknown action %q", action)
	}
}

// actionExecutor runs jobs in process. Materialize copies the payload to the
// job file; Run performs the recipe's action and then copies the job file to
// the result. outputs maps a pattern name to its output variables.
func actionExecutor(root string, jobs *job.Store, outputs map[string][]string) engine.FuncExecutor {
	return engine.FuncExecutor{
		MaterializeFunc: func(_ context.Context, f engine.JobFiles) error {
			return copyFile(f.Base, f.Job)
		},
		RunFunc: func(_ context.Context, f engine.JobFiles) error {
			data, err := os.ReadFile(f.Job)
			if err != nil {
				return err
			}
			var payload map[string]any
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("decode payload: %w", err)
			}
			action, err := recipeAction(payload)
			if err != nil {
				return err
			}

			switch action {
			case ActionFail:
				return errActionFailed
			case ActionCopy:
				if err := copyOutputs(root, jobs, outputs, f.ID); err != nil {
					return err
				}
			}
			return copyFile(f.Job, f.Result)
		},
	}
}

// copyOutputs copies the triggering file to every output of the job's
// pattern. Locations are read back from the resolved parameters, so keyword
// replacement has already happened.
func copyOutputs(root string, jobs *job.Store, outputs map[string][]string, id string) error {
	j, err := jobs.Load(id)
	if err != nil {
		return err
	}
	params, err := jobs.Params(id)
	if err != nil {
		return err
	}
	src := filepath.Join(root, filepath.FromSlash(j.Path))
	for _, name := range outputs[j.Pattern] {
		out, ok := params[name].(string)
		if !ok {
			return fmt.Errorf("output %s has no location", name)
		}
		dst := filepath.Join(root, filepath.FromSlash(out))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return err
		}
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}
