package engine

import (
	"fmt"
	"slices"
)

// Rule binds one trigger path of a pattern to the pattern's recipe. It is
// derived by the administrator whenever both referents are loaded and is
// never persisted.
type Rule struct {
	ID      string `json:"id"`
	Pattern string `json:"pattern"`
	Recipe  string `json:"recipe"`
	Path    string `json:"path"`

	matcher *globMatcher
}

func newRule(id, pattern, recipe, path string) (*Rule, error) {
	m, err := compileGlob(path)
	if err != nil {
		return nil, fmt.Errorf("rule for pattern %s: %w", pattern, err)
	}
	return &Rule{ID: id, Pattern: pattern, Recipe: recipe, Path: path, matcher: m}, nil
}

// Match tests a path relative to the managed root.
func (r *Rule) Match(rel string) MatchKind {
	return r.matcher.Match(rel)
}

// ruleSet is the administrator's ordered rule list.
type ruleSet struct {
	rules []*Rule
}

func (s *ruleSet) add(r *Rule) {
	s.rules = append(s.rules, r)
}

// removeWhere deletes the rules drop selects and returns them.
func (s *ruleSet) removeWhere(drop func(*Rule) bool) []*Rule {
	var removed []*Rule
	s.rules = slices.DeleteFunc(s.rules, func(r *Rule) bool {
		if drop(r) {
			removed = append(removed, r)
			return true
		}
		return false
	})
	return removed
}

func (s *ruleSet) removePattern(name string) []*Rule {
	return s.removeWhere(func(r *Rule) bool { return r.Pattern == name })
}

func (s *ruleSet) removeRecipe(name string) []*Rule {
	return s.removeWhere(func(r *Rule) bool { return r.Recipe == name })
}

func (s *ruleSet) forPattern(name string) []*Rule {
	var out []*Rule
	for _, r := range s.rules {
		if r.Pattern == name {
			out = append(out, r)
		}
	}
	return out
}

// snapshot returns copies safe to hand across a channel.
func (s *ruleSet) snapshot() []Rule {
	out := make([]Rule, len(s.rules))
	for i, r := range s.rules {
		out[i] = Rule{ID: r.ID, Pattern: r.Pattern, Recipe: r.Recipe, Path: r.Path}
	}
	return out
}

func (s *ruleSet) len() int {
	return len(s.rules)
}
