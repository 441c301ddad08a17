package compiler

import (
	"cuelang.org/go/cue/token"

	"github.com/roach88/liveq/internal/queryir"
)

// OperationKind is the top-level block an operation is declared in.
type OperationKind string

const (
	KindQuery        OperationKind = "query"
	KindSubscription OperationKind = "subscription"
	KindMutation     OperationKind = "mutation"
)

// Kinds lists operation kinds in document block order.
var Kinds = []OperationKind{KindQuery, KindSubscription, KindMutation}

// MutationKind selects the write a mutation performs.
type MutationKind string

const (
	MutationInsert MutationKind = "insert"
	MutationUpdate MutationKind = "update"
	MutationDelete MutationKind = "delete"
)

// Document is a compiled query document.
type Document struct {
	// Hash identifies the source text (ir.DocumentHash).
	Hash string
	// Operations in declaration order, query block first.
	Operations []*Operation
}

// Operation is one named query, subscription or mutation.
type Operation struct {
	Kind OperationKind
	Name string

	// Query is set for query and subscription operations.
	Query queryir.Query
	// Root is the table the result rows are keyed under in the payload.
	Root string
	// Take bounds the number of results a subscription emits; 0 is unbounded.
	Take int

	// Mutation is set for mutation operations.
	Mutation *Mutation

	Pos token.Pos
}

// Mutation describes a single-table write.
type Mutation struct {
	Kind   MutationKind
	Table  string
	Values []queryir.Assignment // insert values or update set
	Where  queryir.Predicate    // update and delete only
}

// Lookup returns every operation with the given name.
// More than one match means the name is ambiguous.
func (d *Document) Lookup(name string) []*Operation {
	var out []*Operation
	for _, op := range d.Operations {
		if op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

// Names returns operation names in declaration order.
func (d *Document) Names() []string {
	names := make([]string, len(d.Operations))
	for i, op := range d.Operations {
		names[i] = op.Name
	}
	return names
}

// Variables returns the sorted variable names the operation references.
func (op *Operation) Variables() []string {
	if op.Mutation != nil {
		vars := append(queryir.AssignmentBoundVars(op.Mutation.Values),
			queryir.PredicateBoundVars(op.Mutation.Where)...)
		return sortedUnique(vars)
	}
	return queryir.BoundVars(op.Query)
}

// Tables returns the tables the operation reads or writes.
func (op *Operation) Tables() []string {
	if op.Mutation != nil {
		return []string{op.Mutation.Table}
	}
	return queryir.Tables(op.Query)
}
