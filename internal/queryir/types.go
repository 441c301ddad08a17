package queryir

import "github.com/roach88/liveq/internal/ir"

// Query represents an abstract query in the QueryIR.
//
// This is a sealed interface - only Select and Join implement it.
type Query interface {
	queryNode() // Marker method - seals interface to this package
}

// Predicate represents a filter condition in the QueryIR.
//
// Predicate types:
//   - Equals: field = literal_value
//   - BoundEquals: field = operation variable
//   - FieldEquals: left.field = right.field (join condition)
//   - And: all predicates must be true
type Predicate interface {
	predicateNode() // Marker method - seals interface to this package
}

// Select represents a basic table access query with filtering.
//
// Semantics:
//
//	SELECT <bindings> FROM <from> WHERE <filter> ORDER BY id
//
// Example:
//
//	Select{
//	  From: "stores",
//	  Filter: &And{Predicates: []Predicate{
//	    &BoundEquals{Field: "region", BoundVar: "region"},
//	    &Equals{Field: "status", Value: ir.IRString("open")},
//	  }},
//	  Bindings: map[string]string{"id": "id", "name": "name"},
//	}
//
// Produces rows: {"id": <value>, "name": <value>}
type Select struct {
	From     string            // Table name
	Filter   Predicate         // WHERE conditions (nil = no filter)
	Bindings map[string]string // source_field → output field
}

func (Select) queryNode() {}

// Join represents an inner join of two Select queries.
//
// Output rows carry the bindings of both sides. On is required for the
// portable fragment; a nil On is a cross join.
type Join struct {
	Left  Query     // Left query
	Right Query     // Right query
	On    Predicate // Join condition, usually FieldEquals or And of FieldEquals
}

func (Join) queryNode() {}

// Equals represents a field-equals-literal predicate.
//
// Value must be an ir.IRValue scalar (string, int, bool).
type Equals struct {
	Field string     // Field name in current query source
	Value ir.IRValue // Literal value
}

func (Equals) predicateNode() {}

// BoundEquals represents a field-equals-variable predicate.
//
//	BoundEquals{Field: "id", BoundVar: "id"}
//
// matches rows whose id equals the operation variable $id.
type BoundEquals struct {
	Field    string // Field name in current query source
	BoundVar string // Operation variable name, without the "$" sigil
}

func (BoundEquals) predicateNode() {}

// FieldEquals compares a column of the left join side with a column of the
// right join side. It is only meaningful inside Join.On.
type FieldEquals struct {
	Left  string // Column of the left query's table
	Right string // Column of the right query's table
}

func (FieldEquals) predicateNode() {}

// And represents a conjunction of predicates (all must be true).
// An empty And is vacuously true.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Assignment sets one column in an insert or update. Exactly one of Value
// or BoundVar is set.
type Assignment struct {
	Field    string
	Value    ir.IRValue // Literal value
	BoundVar string     // Operation variable name
}
