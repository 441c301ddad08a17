package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/store"
)

func traceResult() *Result {
	r := NewResult()
	r.add(TraceEntry{Step: 0, Type: EntryReply, Operation: "Watch", Subscription: "w", Key: 1})
	r.add(TraceEntry{Step: 1, Type: EntryNext, Subscription: "w", Key: 1, Payload: ir.IRObject{
		"stores": ir.IRArray{ir.IRObject{"id": ir.IRInt(1), "name": ir.IRString("north")}},
	}})
	r.add(TraceEntry{Step: 2, Type: EntryNext, Subscription: "w", Key: 1, Payload: ir.IRObject{
		"stores": ir.IRArray{},
	}})
	r.Open = []string{"w"}
	return r
}

func TestAssertEventCount(t *testing.T) {
	r := traceResult()
	assert.NoError(t, assertEventCount(r, Assertion{Subscription: "w", Count: 2}))
	assert.NoError(t, assertEventCount(r, Assertion{Subscription: "other", Count: 0}))

	err := assertEventCount(r, Assertion{Type: AssertEventCount, Subscription: "w", Count: 1})
	require.Error(t, err)
	var assertErr *AssertionError
	require.ErrorAs(t, err, &assertErr)
	assert.Equal(t, AssertEventCount, assertErr.Type)
	assert.Equal(t, "2 results", assertErr.Actual)
	assert.Contains(t, err.Error(), "Full trace:")
}

func TestAssertEventContains(t *testing.T) {
	r := traceResult()
	assert.NoError(t, assertEventContains(r, Assertion{Subscription: "w", Payload: map[string]any{
		"stores": []any{map[string]any{"name": "north"}},
	}}))
	assert.NoError(t, assertEventContains(r, Assertion{Subscription: "w", Payload: map[string]any{
		"stores": []any{},
	}}))

	err := assertEventContains(r, Assertion{Subscription: "w", Payload: map[string]any{
		"stores": []any{map[string]any{"name": "south"}},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in trace")

	err = assertEventContains(r, Assertion{Subscription: "w", Payload: map[string]any{"x": 1.5}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid payload")
}

func TestAssertOpenSessions(t *testing.T) {
	r := traceResult()
	assert.NoError(t, assertOpenSessions(r, Assertion{Subscriptions: []string{"w"}}))
	assert.Error(t, assertOpenSessions(r, Assertion{}))
	assert.Error(t, assertOpenSessions(r, Assertion{Subscriptions: []string{"w", "v"}}))
}

func TestMatchSubset(t *testing.T) {
	actual := ir.IRObject{
		"a": ir.IRInt(1),
		"b": ir.IRArray{ir.IRObject{"c": ir.IRBool(true), "d": ir.IRString("x")}},
	}

	assert.True(t, matchSubset(actual, ir.IRObject{}))
	assert.True(t, matchSubset(actual, ir.IRObject{"a": ir.IRInt(1)}))
	assert.True(t, matchSubset(actual, ir.IRObject{"b": ir.IRArray{ir.IRObject{"c": ir.IRBool(true)}}}))
	assert.False(t, matchSubset(actual, ir.IRObject{"a": ir.IRInt(2)}))
	assert.False(t, matchSubset(actual, ir.IRObject{"a": ir.IRString("1")}))
	assert.False(t, matchSubset(actual, ir.IRObject{"b": ir.IRArray{}}))
	assert.False(t, matchSubset(actual, ir.IRObject{"z": ir.IRInt(1)}))
	assert.False(t, matchSubset(nil, ir.IRObject{}))
}

func TestStateValuesEqual(t *testing.T) {
	assert.True(t, stateValuesEqual("open", "open"))
	assert.True(t, stateValuesEqual("open", []byte("open")))
	assert.True(t, stateValuesEqual(3, int64(3)))
	assert.True(t, stateValuesEqual(int64(3), int64(3)))
	assert.True(t, stateValuesEqual(true, int64(1)))
	assert.True(t, stateValuesEqual(false, int64(0)))
	assert.False(t, stateValuesEqual(3, "3"))
	assert.False(t, stateValuesEqual(nil, nil))
}

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	require.NoError(t, st.ApplyCatalog(context.Background(), config.Catalog{
		"stores": {Columns: map[string]config.ColumnType{
			"name":   config.ColumnString,
			"status": config.ColumnString,
			"open":   config.ColumnBool,
		}},
	}))
	_, err = st.DB().Exec(`INSERT INTO stores (name, status, open) VALUES ('north', 'open', 1), ('south', 'open', 0)`)
	require.NoError(t, err)
	return st
}

func TestAssertFinalState(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	err := assertFinalState(ctx, st, Assertion{
		Table:  "stores",
		Where:  map[string]any{"name": "north"},
		Expect: map[string]any{"id": 1, "status": "open", "open": true},
	})
	assert.NoError(t, err)

	err = assertFinalState(ctx, st, Assertion{
		Table:  "stores",
		Where:  map[string]any{"name": "east"},
		Expect: map[string]any{"status": "open"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row not found")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "stores",
		Where:  map[string]any{"status": "open"},
		Expect: map[string]any{"status": "open"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple rows matched")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "stores",
		Where:  map[string]any{"name": "south"},
		Expect: map[string]any{"open": true},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "open"`)

	err = assertFinalState(ctx, st, Assertion{
		Table:  "stores",
		Where:  map[string]any{"id": 1},
		Expect: map[string]any{"rank": 1},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `field "rank" not present`)
}

func TestAssertFinalState_RejectsUnknownIdentifiers(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	err := assertFinalState(ctx, st, Assertion{Table: "stores; DROP TABLE stores", Expect: map[string]any{"a": 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")

	err = assertFinalState(ctx, st, Assertion{
		Table:  "stores",
		Where:  map[string]any{"name = name OR 1": 1},
		Expect: map[string]any{"status": "open"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown column")
}

func TestEvaluateAssertions(t *testing.T) {
	r := traceResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertEventCount, Subscription: "w", Count: 2},
		{Type: AssertOpenSessions},
		{Type: AssertFinalState, Table: "stores", Expect: map[string]any{"a": 1}},
		{Type: "bogus"},
	}, nil)
	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "open_sessions")
	assert.Contains(t, errs[1], "requires database context")
	assert.Contains(t, errs[2], `unknown assertion type "bogus"`)
}
