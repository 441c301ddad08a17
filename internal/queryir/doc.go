// Package queryir provides the abstract query intermediate representation
// (IR) that compiled query documents are lowered to.
//
// The IR sits between the document compiler and the SQL backend:
//
//	[CUE document] → [Query IR] → [querysql] → SQLite
//
// PORTABLE FRAGMENT:
//
// The portable fragment includes:
//   - Select(from, filter, bindings) - table access with filtering
//   - Join(left, right, on) - inner joins only
//   - Predicates: Equals, BoundEquals, FieldEquals, And
//   - Explicit field bindings (no SELECT *)
//
// The portable fragment EXCLUDES NULL comparisons, outer joins,
// aggregations, subqueries and OR predicates.
//
// SEALED INTERFACES:
//
// Query and Predicate are sealed interfaces using the marker method pattern.
// Only types in this package can implement them, so backends can switch
// exhaustively:
//
//	switch q := query.(type) {
//	case *Select:
//	    // Handle select
//	case *Join:
//	    // Handle join
//	}
//
// VARIABLES:
//
// BoundEquals references an operation variable by name. Variables are
// resolved by the backend at compile time; BoundVars lists the names a query
// needs so callers can reject unbound variables before execution.
package queryir
