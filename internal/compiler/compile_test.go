package compiler

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/queryir"
)

func TestCompileDocument_Query(t *testing.T) {
	doc, err := CompileDocument("stores.cue", `
query: OpenStores: {
	from: "stores"
	select: ["id", "name"]
	where: {status: "open", name: "$name"}
}
`)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 1)

	op := doc.Operations[0]
	assert.Equal(t, KindQuery, op.Kind)
	assert.Equal(t, "OpenStores", op.Name)
	assert.Equal(t, "stores", op.Root)
	assert.Equal(t, ir.DocumentHash(`
query: OpenStores: {
	from: "stores"
	select: ["id", "name"]
	where: {status: "open", name: "$name"}
}
`), doc.Hash)

	sel, ok := op.Query.(queryir.Select)
	require.True(t, ok)
	assert.Equal(t, "stores", sel.From)
	assert.Equal(t, map[string]string{"id": "id", "name": "name"}, sel.Bindings)

	and, ok := sel.Filter.(queryir.And)
	require.True(t, ok)
	assert.ElementsMatch(t, []queryir.Predicate{
		queryir.Equals{Field: "status", Value: ir.IRString("open")},
		queryir.BoundEquals{Field: "name", BoundVar: "name"},
	}, and.Predicates)

	assert.Equal(t, []string{"name"}, op.Variables())
	assert.Equal(t, []string{"stores"}, op.Tables())
}

func TestCompileDocument_SubscriptionWithJoin(t *testing.T) {
	doc, err := CompileDocument("watch.cue", `
subscription: Inventory: {
	from: "stores"
	select: ["id", "name"]
	join: {from: "items", on: {store_id: "id"}, select: ["sku"], where: {qty: 0}}
	take: 3
}
`)
	require.NoError(t, err)

	op := doc.Operations[0]
	assert.Equal(t, KindSubscription, op.Kind)
	assert.Equal(t, 3, op.Take)
	assert.Equal(t, "stores", op.Root)
	assert.Equal(t, []string{"items", "stores"}, op.Tables())

	join, ok := op.Query.(queryir.Join)
	require.True(t, ok)
	assert.Equal(t, queryir.FieldEquals{Left: "id", Right: "store_id"}, join.On)
	right := join.Right.(queryir.Select)
	assert.Equal(t, "items", right.From)
	assert.Equal(t, queryir.Equals{Field: "qty", Value: ir.IRInt(0)}, right.Filter)
}

func TestCompileDocument_Mutations(t *testing.T) {
	doc, err := CompileDocument("write.cue", `
mutation: Add: {insert: "stores", values: {name: "$name", status: "open", open: true}}
mutation: Close: {update: "stores", set: {status: "closed"}, where: {id: "$id"}}
mutation: Drop: {delete: "stores", where: {id: "$id"}}
`)
	require.NoError(t, err)
	require.Len(t, doc.Operations, 3)
	assert.Equal(t, []string{"Add", "Close", "Drop"}, doc.Names())

	add := doc.Operations[0].Mutation
	require.NotNil(t, add)
	assert.Equal(t, MutationInsert, add.Kind)
	assert.Equal(t, "stores", add.Table)
	assert.ElementsMatch(t, []queryir.Assignment{
		{Field: "name", BoundVar: "name"},
		{Field: "status", Value: ir.IRString("open")},
		{Field: "open", Value: ir.IRBool(true)},
	}, add.Values)
	assert.Equal(t, []string{"name"}, doc.Operations[0].Variables())

	closeOp := doc.Operations[1].Mutation
	assert.Equal(t, MutationUpdate, closeOp.Kind)
	assert.Equal(t, queryir.BoundEquals{Field: "id", BoundVar: "id"}, closeOp.Where)

	drop := doc.Operations[2]
	assert.Equal(t, MutationDelete, drop.Mutation.Kind)
	assert.Equal(t, []string{"id"}, drop.Variables())
	assert.Equal(t, []string{"stores"}, drop.Tables())
}

func TestCompileDocument_EscapedSigil(t *testing.T) {
	doc, err := CompileDocument("q.cue", `query: Q: {from: "t", select: ["id"], where: {tag: "$$literal"}}`)
	require.NoError(t, err)

	sel := doc.Operations[0].Query.(queryir.Select)
	assert.Equal(t, queryir.Equals{Field: "tag", Value: ir.IRString("$literal")}, sel.Filter)
}

func TestCompileDocument_BlockOrder(t *testing.T) {
	doc, err := CompileDocument("q.cue", `
mutation: M: {delete: "t", where: {id: 1}}
query: Q: {from: "t", select: ["id"]}
`)
	require.NoError(t, err)
	assert.Equal(t, []string{"Q", "M"}, doc.Names())
	assert.Len(t, doc.Lookup("Q"), 1)
	assert.Empty(t, doc.Lookup("missing"))
}

func TestCompileDocument_Errors(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		field   string
		message string
	}{
		{"syntax", `query: {`, "cue", ""},
		{"empty", ``, "document", "at least one operation"},
		{"unknown block", `fragment: X: {}`, "fragment", "unknown top-level block"},
		{"missing from", `query: Q: {select: ["id"]}`, "query.Q.from", "is required"},
		{"missing select", `query: Q: {from: "t"}`, "query.Q.select", "is required"},
		{"duplicate select", `query: Q: {from: "t", select: ["id", "id"]}`, "query.Q.select", "selected twice"},
		{"unknown field", `query: Q: {from: "t", select: ["id"], limit: 3}`, "query.Q.limit", "unknown field"},
		{"float literal", `query: Q: {from: "t", select: ["id"], where: {x: 1.5}}`, "query.Q.where.x", "float"},
		{"take on query", `query: Q: {from: "t", select: ["id"], take: 1}`, "query.Q.take", "only valid on subscriptions"},
		{"empty variable", `query: Q: {from: "t", select: ["id"], where: {x: "$"}}`, "query.Q.where.x", "empty variable"},
		{"join without on", `query: Q: {from: "t", select: ["id"], join: {from: "u", select: ["v"]}}`, "query.Q.join.on", "requires an on clause"},
		{"two writes", `mutation: M: {insert: "t", delete: "t"}`, "mutation.M", "exactly one"},
		{"no write", `mutation: M: {values: {a: 1}}`, "mutation.M", "requires insert"},
		{"values on delete", `mutation: M: {delete: "t", values: {a: 1}}`, "mutation.M.values", "not valid for delete"},
		{"object value", `mutation: M: {insert: "t", values: {a: {b: 1}}}`, "mutation.M.values.a", "unsupported value kind"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileDocument("bad.cue", tt.source)
			require.Error(t, err)

			var cerr *CompileError
			require.True(t, errors.As(err, &cerr), "expected CompileError, got %T: %v", err, err)
			assert.Equal(t, tt.field, cerr.Field)
			if tt.message != "" {
				assert.Contains(t, cerr.Message, tt.message)
			}
		})
	}
}

func TestCompileError_Position(t *testing.T) {
	_, err := CompileDocument("pos.cue", "query: Q: {\n\tselect: [\"id\"]\n}\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pos.cue:1:")
}
