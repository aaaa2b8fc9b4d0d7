package harness

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

// RunWithGolden runs the scenario at path, requires every assertion to hold
// and compares the trace against testdata/golden/<scenario name>.golden.
//
// Regenerate golden files with:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, path string) {
	t.Helper()

	scenario, err := LoadScenario(path)
	require.NoError(t, err, "failed to load scenario %s", path)

	result, err := Run(scenario)
	require.NoError(t, err, "failed to run scenario %s", scenario.Name)
	require.True(t, result.Pass, "scenario %s failed:\n%s", scenario.Name, strings.Join(result.Errors, "\n"))

	AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the result's trace against the named golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	data, err := traceJSON(result.Trace)
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir(filepath.Join("testdata", "golden")),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
}

// traceJSON renders a trace as indented JSON. HTML escaping is off so
// error messages keep their "<jobs>" marker verbatim.
func traceJSON(trace []TraceJob) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(trace); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RunAll runs every scenario file in dir as a subtest.
func RunAll(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		t.Run(strings.TrimSuffix(e.Name(), ".yaml"), func(t *testing.T) {
			RunWithGolden(t, path)
		})
	}
}
