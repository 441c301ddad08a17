package harness

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one fetch"
document: |
  query: Stores: {from: "stores", select: ["id", "name"]}
tables:
  stores:
    columns: {name: string}
steps:
  - fetch: Stores
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	scenario, err := LoadScenario(writeScenario(t, minimalScenario+`
timeout: 500ms
seed:
  stores:
    - {name: north}
assertions:
  - type: open_sessions
`))
	require.NoError(t, err)

	assert.Equal(t, "minimal", scenario.Name)
	assert.Contains(t, scenario.Document, "query: Stores")
	assert.Len(t, scenario.Steps, 1)
	assert.Equal(t, StepFetch, scenario.Steps[0].Kind())
	assert.Equal(t, 500*time.Millisecond, scenario.Timeout)
	assert.Equal(t, "north", scenario.Seed["stores"][0]["name"])
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_DocumentFileResolvesRelativeToScenario(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/live_stores.yaml")
	require.NoError(t, err)
	assert.Contains(t, scenario.Document, "subscription: Open")
	assert.Len(t, scenario.Steps, 8)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownFieldsRejected(t *testing.T) {
	_, err := LoadScenario(writeScenario(t, minimalScenario+"flow_token: abc\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing name",
			content: "description: d\ndocument: 'query: A: {from: \"t\", select: [\"id\"]}'\ntables: {t: {columns: {}}}\nsteps: [{fetch: A}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing document",
			content: "name: n\ndescription: d\ntables: {t: {columns: {}}}\nsteps: [{fetch: A}]\n",
			wantErr: "document or document_file is required",
		},
		{
			name:    "no steps",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\n",
			wantErr: "steps list is required",
		},
		{
			name:    "seed unknown table",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nseed: {u: [{a: 1}]}\nsteps: [{fetch: A}]\n",
			wantErr: `unknown table "u"`,
		},
		{
			name:    "two kinds in one step",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nsteps: [{fetch: A, as: a}, {await: a, unsubscribe: a}]\n",
			wantErr: "steps[1]: exactly one of",
		},
		{
			name:    "unknown label",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nsteps: [{fetch: A}, {await: a}]\n",
			wantErr: `steps[1]: unknown session label "a"`,
		},
		{
			name:    "duplicate label",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nsteps: [{fetch: A, as: a}, {fetch: B, as: a}]\n",
			wantErr: `label "a" is already used`,
		},
		{
			name:    "unknown assertion",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nsteps: [{fetch: A}]\nassertions: [{type: trace_order}]\n",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name:    "event_contains without payload",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nsteps: [{fetch: A, as: a}]\nassertions: [{type: event_contains, subscription: a}]\n",
			wantErr: "payload is required",
		},
		{
			name:    "final_state without expect",
			content: "name: n\ndescription: d\ndocument: x\ntables: {t: {columns: {}}}\nsteps: [{fetch: A}]\nassertions: [{type: final_state, table: t}]\n",
			wantErr: "expect is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestStep_Kind(t *testing.T) {
	assert.Equal(t, StepFetch, Step{Fetch: "A", As: "a"}.Kind())
	assert.Equal(t, StepUnsubscribe, Step{Unsubscribe: "a"}.Kind())
	assert.Equal(t, StepAwait, Step{Await: "a", Count: 2}.Kind())
	assert.Equal(t, StepAwaitClosed, Step{AwaitClosed: "a"}.Kind())
	assert.Equal(t, "", Step{}.Kind())
	assert.Equal(t, "", Step{Fetch: "A", Await: "a"}.Kind())
}

func TestFindScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "bounded.yaml"),
		filepath.Join("testdata", "scenarios", "live_stores.yaml"),
	}, files)

	files, err = FindScenarios("testdata/scenarios", "live_*")
	require.NoError(t, err)
	assert.Len(t, files, 1)

	_, err = FindScenarios("testdata/scenarios", "[")
	assert.Error(t, err)
}
