package model

import (
	"fmt"
	"math"
)

// maxSweepValues bounds a single sweep so a typo in jump cannot schedule
// millions of jobs.
const maxSweepValues = 10000

// Sweep is an inclusive numeric range. A pattern with a sweep schedules one
// job per value instead of one job per trigger.
type Sweep struct {
	Start float64 `yaml:"start" json:"start"`
	Stop  float64 `yaml:"stop" json:"stop"`
	Jump  float64 `yaml:"jump" json:"jump"`
}

// Values expands the range. When start, stop and jump are all integral the
// values are ints, otherwise float64.
func (s Sweep) Values() ([]any, error) {
	if s.Jump == 0 {
		return nil, fmt.Errorf("sweep jump must not be zero")
	}
	if (s.Stop-s.Start)/s.Jump < 0 {
		return nil, fmt.Errorf("sweep jump %v does not move from %v towards %v", s.Jump, s.Start, s.Stop)
	}
	n := int(math.Floor((s.Stop-s.Start)/s.Jump+1e-9)) + 1
	if n > maxSweepValues {
		return nil, fmt.Errorf("sweep from %v to %v by %v yields %d values, limit is %d", s.Start, s.Stop, s.Jump, n, maxSweepValues)
	}
	integral := isIntegral(s.Start) && isIntegral(s.Stop) && isIntegral(s.Jump)
	values := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v := s.Start + float64(i)*s.Jump
		if integral {
			values = append(values, int(math.Round(v)))
		} else {
			values = append(values, v)
		}
	}
	return values, nil
}

func isIntegral(f float64) bool {
	return f == math.Trunc(f)
}

// SweepCombinations expands every swept variable and returns the cartesian
// product, one binding map per job. Variables are iterated in name order so
// the result is deterministic. A nil or empty sweep yields a single empty
// binding.
func SweepCombinations(sweeps map[string]Sweep) ([]map[string]any, error) {
	combos := []map[string]any{{}}
	for _, name := range sortedKeys(sweeps) {
		values, err := sweeps[name].Values()
		if err != nil {
			return nil, fmt.Errorf("sweep %s: %w", name, err)
		}
		next := make([]map[string]any, 0, len(combos)*len(values))
		for _, combo := range combos {
			for _, v := range values {
				c := make(map[string]any, len(combo)+1)
				for k, cv := range combo {
					c[k] = cv
				}
				c[name] = v
				next = append(next, c)
			}
		}
		combos = next
		if len(combos) > maxSweepValues {
			return nil, fmt.Errorf("sweep yields more than %d combinations", maxSweepValues)
		}
	}
	return combos, nil
}
