package model

import "fmt"

// PatternFromPayload builds a complete pattern from an imported payload. The
// payload is validated against the schema first; the name usually comes from
// the definition's file name.
//
// Variables named after the trigger file or an output are ignored because
// the builder defines those itself.
func PatternFromPayload(name string, payload map[string]any) (*Pattern, error) {
	if ok, reason := ValidatePatternPayload(payload); !ok {
		return nil, definitionErrorf(name, "payload", "%s", reason)
	}
	p, err := NewPattern(name)
	if err != nil {
		return nil, err
	}

	p.TriggerFile, _ = payload["input_file"].(string)
	paths, err := stringList(payload["input_paths"])
	if err != nil {
		return nil, definitionErrorf(name, "input_paths", "%v", err)
	}
	p.TriggerPaths = paths

	recipes, err := stringList(payload["recipes"])
	if err != nil {
		return nil, definitionErrorf(name, "recipes", "%v", err)
	}
	for _, r := range recipes {
		if err := p.AddRecipe(r); err != nil {
			return nil, err
		}
	}

	outputs, _ := payload["output"].(map[string]any)
	for _, key := range sortedKeys(outputs) {
		location, ok := outputs[key].(string)
		if !ok {
			return nil, definitionErrorf(name, "output", "output %s is not a string", key)
		}
		if err := p.AddOutput(key, location); err != nil {
			return nil, err
		}
	}

	variables, _ := payload["variables"].(map[string]any)
	for _, key := range sortedKeys(variables) {
		if key == p.TriggerFile {
			continue
		}
		if _, isOutput := p.Outputs[key]; isOutput {
			continue
		}
		if err := p.AddVariable(key, cloneValue(variables[key])); err != nil {
			return nil, err
		}
	}
	if _, ok := p.Variables[p.TriggerFile]; !ok {
		if err := p.AddVariable(p.TriggerFile, p.TriggerFile); err != nil {
			return nil, err
		}
	}

	sweeps, _ := payload["sweep"].(map[string]any)
	for _, key := range sortedKeys(sweeps) {
		sweep, err := sweepFromPayload(sweeps[key])
		if err != nil {
			return nil, definitionErrorf(name, "sweep", "%s: %v", key, err)
		}
		if err := p.AddSweep(key, sweep); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// RecipeFromPayload builds a recipe from an imported payload.
func RecipeFromPayload(name string, payload map[string]any) (*Recipe, error) {
	if ok, reason := ValidateRecipePayload(payload); !ok {
		return nil, definitionErrorf(name, "payload", "%s", reason)
	}
	source, _ := payload["source"].(string)
	body, _ := payload["recipe"].(map[string]any)
	reqs, err := stringList(payload["requirements"])
	if err != nil {
		return nil, definitionErrorf(name, "requirements", "%v", err)
	}
	copied, _ := cloneValue(body).(map[string]any)
	return NewRecipe(name, source, copied, reqs...)
}

// ToPayload renders the pattern in its on-disk shape, without the name.
func (p *Pattern) ToPayload() map[string]any {
	payload := map[string]any{
		"input_file":  p.TriggerFile,
		"input_paths": toAnyList(p.TriggerPaths),
		"recipes":     toAnyList(p.Recipes),
	}
	outputs := make(map[string]any, len(p.Outputs))
	for k, v := range p.Outputs {
		outputs[k] = v
	}
	payload["output"] = outputs
	variables, _ := cloneValue(p.Variables).(map[string]any)
	payload["variables"] = variables
	if len(p.Sweep) > 0 {
		sweeps := make(map[string]any, len(p.Sweep))
		for k, s := range p.Sweep {
			sweeps[k] = map[string]any{"start": s.Start, "stop": s.Stop, "jump": s.Jump}
		}
		payload["sweep"] = sweeps
	}
	return payload
}

// ToPayload renders the recipe in its on-disk shape, without the name.
func (r *Recipe) ToPayload() map[string]any {
	body, _ := cloneValue(r.Recipe).(map[string]any)
	payload := map[string]any{
		"source": r.Source,
		"recipe": body,
	}
	if len(r.Requirements) > 0 {
		payload["requirements"] = toAnyList(r.Requirements)
	}
	return payload
}

func stringList(v any) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), list...), nil
	case []any:
		out := make([]string, 0, len(list))
		for i, e := range list {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("entry %d is %T, expected string", i, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list of strings, got %T", v)
	}
}

func toAnyList(list []string) []any {
	out := make([]any, len(list))
	for i, s := range list {
		out[i] = s
	}
	return out
}

func sweepFromPayload(v any) (Sweep, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return Sweep{}, fmt.Errorf("expected a mapping with start, stop and jump, got %T", v)
	}
	var s Sweep
	var err error
	if s.Start, err = toFloat(m["start"]); err != nil {
		return Sweep{}, fmt.Errorf("start: %w", err)
	}
	if s.Stop, err = toFloat(m["stop"]); err != nil {
		return Sweep{}, fmt.Errorf("stop: %w", err)
	}
	if s.Jump, err = toFloat(m["jump"]); err != nil {
		return Sweep{}, fmt.Errorf("jump: %w", err)
	}
	return s, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}
