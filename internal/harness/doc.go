// Package harness runs conformance scenarios against an in-process engine
// and session manager.
//
// # Scenario Format
//
//	name: watch_open_stores
//	description: "A live query re-emits after a matching write"
//	document: |
//	  subscription: Open: {from: "stores", select: ["id", "name"], where: {status: "open"}}
//	  mutation: Add: {insert: "stores", values: {name: "$name", status: "open"}}
//	tables:
//	  stores:
//	    columns: {name: string, status: string}
//	seed:
//	  stores:
//	    - {name: north, status: open}
//	steps:
//	  - fetch: Open
//	    as: open
//	    expect: {pending: true}
//	  - await: open
//	  - fetch: Add
//	    variables: {name: south}
//	  - await: open
//	  - unsubscribe: open
//	  - await_closed: open
//	assertions:
//	  - type: event_count
//	    subscription: open
//	    count: 2
//	  - type: final_state
//	    table: stores
//	    where: {name: south}
//	    expect: {status: open}
//
// # Determinism
//
// Every scenario gets a fresh in-memory database, so keys and change
// sequence numbers start at 1. Pushed results enter the trace only through
// await steps, so the trace does not depend on goroutine scheduling and can
// be compared byte for byte with a golden file (see Snapshot).
//
// # Assertion Types
//
//   - event_count: number of awaited results for a session
//   - event_contains: some awaited result matches a payload subset
//   - open_sessions: exact set of sessions still registered at the end
//   - final_state: one row of a table carries the expected values
package harness
