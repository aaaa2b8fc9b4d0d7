package model

import (
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Match records which output of one pattern satisfied a trigger of another.
type Match struct {
	OutputPattern string `json:"output_pattern"`
	OutputFile    string `json:"output_file"`
	Value         string `json:"value"`
	Filename      string `json:"filename"`
}

// Node is one pattern's place in the workflow graph.
type Node struct {
	// Ancestors maps a producing pattern name to the match that links it.
	Ancestors map[string]Match `json:"ancestors"`
	// Descendants maps a consuming pattern name to the match that links it.
	Descendants map[string]Match `json:"descendants"`
	// WorkflowInputs holds the trigger variable and its paths while no other
	// pattern produces a matching output.
	WorkflowInputs map[string][]string `json:"workflow_inputs"`
	// WorkflowOutputs holds outputs not consumed by any pattern.
	WorkflowOutputs map[string]string `json:"workflow_outputs"`
}

// Workflow is the graph derived from a pattern set, keyed by pattern name.
// It is a pure projection and is rebuilt whenever the pattern set changes.
type Workflow map[string]*Node

// BuildWorkflow links every pair of patterns (including a pattern with
// itself) whose trigger regex matches the other's declared output value.
//
// A trigger regex must match at the start of the output value. Outputs
// containing OutputWildcard are also tried the other way round: the wildcard
// becomes ".*" and the output is matched against the trigger regex text, so
// that "out/*.txt" satisfies a literal trigger such as "out/data.txt".
//
// Regexes that do not compile are logged and skipped.
func BuildWorkflow(patterns map[string]*Pattern, logger *slog.Logger) (Workflow, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for key, p := range patterns {
		if p == nil {
			return nil, fmt.Errorf("pattern %q is nil", key)
		}
		if p.Name != key {
			return nil, fmt.Errorf("pattern %q is stored under key %q", p.Name, key)
		}
	}

	names := sortedKeys(patterns)
	wf := make(Workflow, len(patterns))
	for _, name := range names {
		p := patterns[name]
		node := &Node{
			Ancestors:       map[string]Match{},
			Descendants:     map[string]Match{},
			WorkflowInputs:  map[string][]string{},
			WorkflowOutputs: map[string]string{},
		}
		node.WorkflowInputs[p.TriggerFile] = append([]string(nil), p.TriggerPaths...)
		for k, v := range p.Outputs {
			node.WorkflowOutputs[k] = v
		}
		wf[name] = node
	}

	cache := regexCache{logger: logger, compiled: map[string]*regexp.Regexp{}}
	consumed := map[string]map[string]bool{}

	for _, name := range names {
		p := patterns[name]
		for _, otherName := range names {
			other := patterns[otherName]
			for _, trigger := range p.TriggerPaths {
				for _, key := range sortedKeys(other.Outputs) {
					value := other.Outputs[key]
					if !outputSatisfies(&cache, trigger, value) {
						continue
					}
					m := Match{
						OutputPattern: other.Name,
						OutputFile:    key,
						Value:         value,
						Filename:      value[strings.LastIndex(value, "/")+1:],
					}
					wf[otherName].Descendants[name] = m
					wf[name].Ancestors[otherName] = m
					delete(wf[name].WorkflowInputs, p.TriggerFile)
					if consumed[otherName] == nil {
						consumed[otherName] = map[string]bool{}
					}
					consumed[otherName][key] = true
				}
			}
		}
	}

	for producer, keys := range consumed {
		for key := range keys {
			delete(wf[producer].WorkflowOutputs, key)
		}
	}
	return wf, nil
}

func outputSatisfies(cache *regexCache, trigger, value string) bool {
	if re := cache.get(trigger); re != nil && re.MatchString(value) {
		return true
	}
	if !strings.Contains(value, OutputWildcard) {
		return false
	}
	re := cache.get(strings.ReplaceAll(value, OutputWildcard, ".*"))
	return re != nil && re.MatchString(trigger)
}

// regexCache compiles each expression once per build and anchors it at the
// start of the subject.
type regexCache struct {
	logger   *slog.Logger
	compiled map[string]*regexp.Regexp
}

func (c *regexCache) get(expr string) *regexp.Regexp {
	if re, ok := c.compiled[expr]; ok {
		return re
	}
	re, err := regexp.Compile("^(?:" + expr + ")")
	if err != nil {
		c.logger.Warn("skipping invalid regex in workflow build", "regex", expr, "error", err)
		re = nil
	}
	c.compiled[expr] = re
	return re
}

// InputPaths returns the trigger paths that no pattern in the workflow
// produces, sorted and without duplicates.
func (wf Workflow) InputPaths() []string {
	seen := map[string]bool{}
	var out []string
	for _, node := range wf {
		for _, paths := range node.WorkflowInputs {
			for _, p := range paths {
				if !seen[p] {
					seen[p] = true
					out = append(out, p)
				}
			}
		}
	}
	sort.Strings(out)
	return out
}

// WriteText renders the workflow for humans, one block per pattern in name
// order.
func (wf Workflow) WriteText(w io.Writer) error {
	names := sortedKeys(wf)
	if len(names) == 0 {
		_, err := fmt.Fprintln(w, "(no patterns)")
		return err
	}
	for i, name := range names {
		node := wf[name]
		if i > 0 {
			if _, err := fmt.Fprintln(w); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "%s\n", name); err != nil {
			return err
		}
		for _, anc := range sortedKeys(node.Ancestors) {
			m := node.Ancestors[anc]
			if _, err := fmt.Fprintf(w, "  <- %s (%s = %s)\n", anc, m.OutputFile, m.Value); err != nil {
				return err
			}
		}
		for _, desc := range sortedKeys(node.Descendants) {
			m := node.Descendants[desc]
			if _, err := fmt.Fprintf(w, "  -> %s (%s = %s)\n", desc, m.OutputFile, m.Value); err != nil {
				return err
			}
		}
		for _, in := range sortedKeys(node.WorkflowInputs) {
			if _, err := fmt.Fprintf(w, "  input  %s: %s\n", in, strings.Join(node.WorkflowInputs[in], ", ")); err != nil {
				return err
			}
		}
		for _, out := range sortedKeys(node.WorkflowOutputs) {
			if _, err := fmt.Fprintf(w, "  output %s: %s\n", out, node.WorkflowOutputs[out]); err != nil {
				return err
			}
		}
	}
	return nil
}
