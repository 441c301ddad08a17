package harness

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
)

const storesDocument = `
query: Stores: {from: "stores", select: ["id", "name"]}
subscription: Watch: {from: "stores", select: ["id", "name"], where: {status: "open"}}
mutation: Add: {insert: "stores", values: {name: "$name", status: "open"}}
mutation: Close: {update: "stores", set: {status: "closed"}, where: {id: "$id"}}
`

func storesScenario(steps ...Step) *Scenario {
	return &Scenario{
		Name:        "test",
		Description: "test",
		Document:    storesDocument,
		Tables: config.Catalog{"stores": {Columns: map[string]config.ColumnType{
			"name":   config.ColumnString,
			"status": config.ColumnString,
		}}},
		Seed: map[string][]map[string]any{
			"stores": {{"name": "north", "status": "open"}},
		},
		Steps: steps,
	}
}

func TestRun_ImmediateQuery(t *testing.T) {
	result, err := Run(context.Background(), storesScenario(
		Step{Fetch: "Stores", Expect: &ExpectClause{Results: map[string]any{
			"stores": []any{map[string]any{"id": 1, "name": "north"}},
		}}},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	require.Len(t, result.Trace, 1)
	entry := result.Trace[0]
	assert.Equal(t, EntryReply, entry.Type)
	assert.Equal(t, "Stores", entry.Operation)
	assert.Equal(t, ir.IRObject{"stores": ir.IRArray{
		ir.IRObject{"id": ir.IRInt(1), "name": ir.IRString("north")},
	}}, entry.Payload)
	assert.Empty(t, result.Open)
}

func TestRun_StreamingLifecycle(t *testing.T) {
	result, err := Run(context.Background(), storesScenario(
		Step{Fetch: "Watch", As: "w", Expect: &ExpectClause{Pending: true}},
		Step{Await: "w"},
		Step{Fetch: "Add", Variables: map[string]any{"name": "east"}},
		Step{Await: "w"},
		Step{Unsubscribe: "w"},
		Step{AwaitClosed: "w"},
	))
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	next := result.EntriesFor(EntryNext, "w")
	require.Len(t, next, 2)
	assert.Equal(t, 1, next[0].Step)
	assert.Equal(t, 3, next[1].Step)
	rows := next[1].Payload.(ir.IRObject)["stores"].(ir.IRArray)
	assert.Len(t, rows, 2)

	assert.Len(t, result.EntriesFor(EntryUnsubscribe, "w"), 1)
	assert.Len(t, result.EntriesFor(EntryClosed, "w"), 1)
	assert.Empty(t, result.Open)
}

func TestRun_OpenSessionsAreRecorded(t *testing.T) {
	result, err := Run(context.Background(), storesScenario(
		Step{Fetch: "Watch", As: "a"},
		Step{Fetch: "Watch"},
	))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "#2"}, result.Open)

	open := result.Trace[len(result.Trace)-2:]
	assert.Equal(t, EntryOpen, open[0].Type)
	assert.Equal(t, 2, open[0].Step)
}

func TestRun_ExpectMismatchFails(t *testing.T) {
	result, err := Run(context.Background(), storesScenario(
		Step{Fetch: "Stores", Expect: &ExpectClause{Pending: true}},
		Step{Fetch: "Nope", Expect: &ExpectClause{Error: "UNKNOWN_OPERATION"}},
		Step{Fetch: "Nope"},
		Step{Fetch: "Stores", Expect: &ExpectClause{Error: "boom"}},
		Step{Fetch: "Stores", Expect: &ExpectClause{Results: map[string]any{"stores": []any{}}}},
	))
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 3)
	assert.Contains(t, result.Errors[0], "step 0: fetch Stores: expected pending=true")
	assert.Contains(t, result.Errors[1], "step 3: fetch Stores: expected error containing \"boom\"")
	assert.Contains(t, result.Errors[2], "step 4: fetch Stores: results")

	assert.Contains(t, result.Trace[2].Error, "UNKNOWN_OPERATION")
}

func TestRun_AwaitTimeout(t *testing.T) {
	scenario := storesScenario(
		Step{Fetch: "Watch", As: "w"},
		Step{Await: "w", Count: 2},
	)
	scenario.Timeout = 50 * time.Millisecond

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "await w: got 1 of 2 results")
	assert.Len(t, result.EntriesFor(EntryNext, "w"), 1)
}

func TestRun_AwaitClosedTimeout(t *testing.T) {
	scenario := storesScenario(
		Step{Fetch: "Watch", As: "w"},
		Step{AwaitClosed: "w"},
	)
	scenario.Timeout = 50 * time.Millisecond

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.True(t, strings.HasPrefix(result.Errors[0], "step 1: session w still open"))
}

func TestRun_SetupErrors(t *testing.T) {
	scenario := storesScenario(Step{Fetch: "Stores"})
	scenario.Seed = map[string][]map[string]any{"stores": {{"name": 1.5}}}
	_, err := Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed stores[0]")

	scenario = storesScenario(Step{Fetch: "Add", Variables: map[string]any{"name": nil}})
	_, err = Run(context.Background(), scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 0: variables")
}

func TestRun_Assertions(t *testing.T) {
	scenario := storesScenario(
		Step{Fetch: "Watch", As: "w"},
		Step{Await: "w"},
		Step{Fetch: "Close", Variables: map[string]any{"id": 1}},
		Step{Await: "w"},
	)
	scenario.Assertions = []Assertion{
		{Type: AssertEventCount, Subscription: "w", Count: 2},
		{Type: AssertEventContains, Subscription: "w", Payload: map[string]any{"stores": []any{}}},
		{Type: AssertOpenSessions, Subscriptions: []string{"w"}},
		{Type: AssertFinalState, Table: "stores", Where: map[string]any{"id": 1}, Expect: map[string]any{"status": "closed"}},
	}

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)

	scenario.Assertions = []Assertion{
		{Type: AssertEventCount, Subscription: "w", Count: 3},
		{Type: AssertOpenSessions},
	}
	result, err = Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Len(t, result.Errors, 2)
}
