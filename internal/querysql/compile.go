package querysql

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/queryir"
)

// Join sides are always aliased so self-joins stay unambiguous.
const (
	leftAlias  = "t0"
	rightAlias = "t1"
)

// SQLCompiler compiles QueryIR to parameterized SQL for SQLite.
//
// CRITICAL: ALL queries include ORDER BY for deterministic results.
// Live subscriptions compare result hashes, so row order must be stable.
// CRITICAL: All values are parameterized (never interpolated).
type SQLCompiler struct {
	// BoundValues holds the operation variables referenced by BoundEquals
	// predicates and Assignment.BoundVar. Must be set before compilation.
	BoundValues ir.IRObject
}

// NewSQLCompiler creates a new SQLCompiler bound to the given variables.
func NewSQLCompiler(vars ir.IRObject) *SQLCompiler {
	if vars == nil {
		vars = ir.IRObject{}
	}
	return &SQLCompiler{BoundValues: vars}
}

// Column describes one column of a compiled query's result.
type Column struct {
	Table string // Source table
	Field string // Source column
	Name  string // Output name in each row
}

// qualifier controls how field references are written.
// self applies to Equals/BoundEquals; left/right apply to FieldEquals.
type qualifier struct {
	self, left, right string
}

func (q qualifier) field(name string) string {
	if q.self == "" {
		return name
	}
	return q.self + "." + name
}

// Compile converts a QueryIR query to parameterized SQL.
// Returns (sql, params, error) tuple.
func (c *SQLCompiler) Compile(q queryir.Query) (string, []any, error) {
	if q == nil {
		return "", nil, fmt.Errorf("cannot compile nil query")
	}

	switch query := q.(type) {
	case queryir.Select:
		return c.compileSelect(query)
	case *queryir.Select:
		return c.compileSelect(*query)
	case queryir.Join:
		return c.compileJoin(query)
	case *queryir.Join:
		return c.compileJoin(*query)
	default:
		return "", nil, fmt.Errorf("unsupported query type: %T", q)
	}
}

// compileSelect compiles a queryir.Select to SQL.
func (c *SQLCompiler) compileSelect(q queryir.Select) (string, []any, error) {
	selectClause := compileBindings(q.Bindings, "")

	var whereClause string
	var params []any
	if q.Filter != nil {
		filterSQL, filterParams, err := c.compilePredicate(q.Filter, qualifier{})
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		whereClause = " WHERE " + filterSQL
		params = filterParams
	}

	// MANDATORY: Always add ORDER BY
	orderByClause := " ORDER BY " + stableOrderKey("")

	sql := fmt.Sprintf("SELECT %s FROM %s%s%s",
		selectClause,
		q.From,
		whereClause,
		orderByClause)

	return sql, params, nil
}

// compileBindings converts bindings map to SELECT column list.
// Example: {"item_id": "itemId"} → "item_id AS itemId"
// Keys are sorted for deterministic output.
func compileBindings(bindings map[string]string, alias string) string {
	if len(bindings) == 0 {
		if alias != "" {
			return alias + ".*"
		}
		return "*"
	}

	var parts []string
	for _, sourceField := range sortedKeys(bindings) {
		name := bindings[sourceField]
		ref := sourceField
		if alias != "" {
			ref = alias + "." + sourceField
		}
		if alias == "" && sourceField == name {
			parts = append(parts, sourceField)
		} else {
			parts = append(parts, fmt.Sprintf("%s AS %s", ref, name))
		}
	}

	return strings.Join(parts, ", ")
}

// stableOrderKey returns the ORDER BY term for one table.
// MANDATORY: Every query MUST call this function.
// COLLATE BINARY ensures deterministic text ordering across SQLite versions.
func stableOrderKey(alias string) string {
	if alias == "" {
		return "id ASC COLLATE BINARY"
	}
	return alias + ".id ASC COLLATE BINARY"
}

// compilePredicate compiles a queryir.Predicate to SQL WHERE clause fragment.
// CRITICAL: Values NEVER interpolated - always use ? placeholders.
func (c *SQLCompiler) compilePredicate(p queryir.Predicate, qual qualifier) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil // Always true
	}

	switch pred := p.(type) {
	case queryir.Equals:
		return c.compileEquals(pred, qual)
	case *queryir.Equals:
		return c.compileEquals(*pred, qual)
	case queryir.And:
		return c.compileAnd(pred, qual)
	case *queryir.And:
		return c.compileAnd(*pred, qual)
	case queryir.BoundEquals:
		return c.compileBoundEquals(pred, qual)
	case *queryir.BoundEquals:
		return c.compileBoundEquals(*pred, qual)
	case queryir.FieldEquals:
		return compileFieldEquals(pred, qual)
	case *queryir.FieldEquals:
		return compileFieldEquals(*pred, qual)
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

// compileEquals compiles an Equals predicate to "field = ?".
func (c *SQLCompiler) compileEquals(eq queryir.Equals, qual qualifier) (string, []any, error) {
	param, err := irValueToParam(eq.Value)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", eq.Field, err)
	}
	return qual.field(eq.Field) + " = ?", []any{param}, nil
}

// compileAnd compiles an And predicate to conjunction with AND.
func (c *SQLCompiler) compileAnd(and queryir.And, qual qualifier) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil // Always true (vacuous truth)
	}

	var sqlParts []string
	var allParams []any

	for _, pred := range and.Predicates {
		sql, params, err := c.compilePredicate(pred, qual)
		if err != nil {
			return "", nil, err
		}
		sqlParts = append(sqlParts, sql)
		allParams = append(allParams, params...)
	}

	return strings.Join(sqlParts, " AND "), allParams, nil
}

// compileBoundEquals compiles a BoundEquals predicate.
// CRITICAL: Value is NEVER interpolated - always parameterized.
func (c *SQLCompiler) compileBoundEquals(beq queryir.BoundEquals, qual qualifier) (string, []any, error) {
	param, err := c.boundParam(beq.BoundVar)
	if err != nil {
		return "", nil, fmt.Errorf("field %s: %w", beq.Field, err)
	}
	return qual.field(beq.Field) + " = ?", []any{param}, nil
}

func compileFieldEquals(fe queryir.FieldEquals, qual qualifier) (string, []any, error) {
	if qual.left == "" || qual.right == "" {
		return "", nil, fmt.Errorf("field comparison %s = %s outside a join condition", fe.Left, fe.Right)
	}
	return fmt.Sprintf("%s.%s = %s.%s", qual.left, fe.Left, qual.right, fe.Right), nil, nil
}

func (c *SQLCompiler) boundParam(name string) (any, error) {
	val, ok := c.BoundValues[name]
	if !ok {
		return nil, fmt.Errorf("unbound variable $%s", name)
	}
	param, err := irValueToParam(val)
	if err != nil {
		return nil, fmt.Errorf("variable $%s: %w", name, err)
	}
	return param, nil
}

// compileJoin compiles a queryir.Join to SQL INNER JOIN.
// Both sides must be Select; output columns are left bindings followed by
// right bindings. Parameters follow placeholder order: ON, then left
// filter, then right filter.
func (c *SQLCompiler) compileJoin(j queryir.Join) (string, []any, error) {
	left := getSelect(j.Left)
	if left == nil {
		return "", nil, fmt.Errorf("join left must be Select")
	}
	right := getSelect(j.Right)
	if right == nil {
		return "", nil, fmt.Errorf("join right must be Select")
	}

	var allParams []any

	onSQL := "1 = 1" // Cross join (no condition)
	if j.On != nil {
		sql, onParams, err := c.compilePredicate(j.On, qualifier{self: rightAlias, left: leftAlias, right: rightAlias})
		if err != nil {
			return "", nil, fmt.Errorf("compile join ON: %w", err)
		}
		onSQL = sql
		allParams = append(allParams, onParams...)
	}

	var where []string
	for _, side := range []struct {
		sel   *queryir.Select
		alias string
	}{{left, leftAlias}, {right, rightAlias}} {
		if side.sel.Filter == nil {
			continue
		}
		sql, params, err := c.compilePredicate(side.sel.Filter, qualifier{self: side.alias})
		if err != nil {
			return "", nil, fmt.Errorf("compile %s filter: %w", side.sel.From, err)
		}
		where = append(where, sql)
		allParams = append(allParams, params...)
	}

	sql := fmt.Sprintf("SELECT %s, %s FROM %s AS %s INNER JOIN %s AS %s ON %s",
		compileBindings(left.Bindings, leftAlias),
		compileBindings(right.Bindings, rightAlias),
		left.From, leftAlias,
		right.From, rightAlias,
		onSQL)
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}

	// MANDATORY: order by both primary keys
	sql += " ORDER BY " + stableOrderKey(leftAlias) + ", " + stableOrderKey(rightAlias)

	return sql, allParams, nil
}

// Columns lists the result columns of a query in SELECT order.
// Output names must be unique across both sides of a join.
func Columns(q queryir.Query) ([]Column, error) {
	var sels []*queryir.Select
	switch query := q.(type) {
	case queryir.Select, *queryir.Select:
		sels = append(sels, getSelect(query))
	case queryir.Join:
		sels = append(sels, getSelect(query.Left), getSelect(query.Right))
	case *queryir.Join:
		sels = append(sels, getSelect(query.Left), getSelect(query.Right))
	default:
		return nil, fmt.Errorf("unsupported query type: %T", q)
	}

	var cols []Column
	seen := make(map[string]string)
	for _, sel := range sels {
		if sel == nil {
			return nil, fmt.Errorf("join sides must be Select")
		}
		for _, field := range sortedKeys(sel.Bindings) {
			name := sel.Bindings[field]
			if prev, dup := seen[name]; dup {
				return nil, fmt.Errorf("output column %q selected from both %s and %s", name, prev, sel.From)
			}
			seen[name] = sel.From
			cols = append(cols, Column{Table: sel.From, Field: field, Name: name})
		}
	}
	return cols, nil
}

// CompileInsert compiles an INSERT returning the new row id.
func (c *SQLCompiler) CompileInsert(table string, values []queryir.Assignment) (string, []any, error) {
	cols, params, err := c.compileAssignments(values)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING id", table), nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(cols, ", "), placeholders)
	return sql, params, nil
}

// CompileUpdate compiles an UPDATE returning the ids of changed rows.
func (c *SQLCompiler) CompileUpdate(table string, set []queryir.Assignment, where queryir.Predicate) (string, []any, error) {
	cols, params, err := c.compileAssignments(set)
	if err != nil {
		return "", nil, err
	}
	if len(cols) == 0 {
		return "", nil, fmt.Errorf("update of %s sets no columns", table)
	}
	parts := make([]string, len(cols))
	for i, col := range cols {
		parts[i] = col + " = ?"
	}
	whereSQL, whereParams, err := c.compilePredicate(where, qualifier{})
	if err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s RETURNING id",
		table, strings.Join(parts, ", "), whereSQL)
	return sql, append(params, whereParams...), nil
}

// CompileDelete compiles a DELETE returning the ids of removed rows.
func (c *SQLCompiler) CompileDelete(table string, where queryir.Predicate) (string, []any, error) {
	whereSQL, params, err := c.compilePredicate(where, qualifier{})
	if err != nil {
		return "", nil, fmt.Errorf("compile where: %w", err)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s RETURNING id", table, whereSQL), params, nil
}

// compileAssignments returns columns sorted by name with their parameters.
func (c *SQLCompiler) compileAssignments(as []queryir.Assignment) ([]string, []any, error) {
	sorted := make([]queryir.Assignment, len(as))
	copy(sorted, as)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })

	cols := make([]string, 0, len(sorted))
	params := make([]any, 0, len(sorted))
	for _, a := range sorted {
		var (
			param any
			err   error
		)
		if a.BoundVar != "" {
			param, err = c.boundParam(a.BoundVar)
		} else {
			param, err = irValueToParam(a.Value)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("column %s: %w", a.Field, err)
		}
		cols = append(cols, a.Field)
		params = append(params, param)
	}
	return cols, params, nil
}

// getSelect extracts the Select from a Query if it's a Select.
func getSelect(q queryir.Query) *queryir.Select {
	switch query := q.(type) {
	case queryir.Select:
		return &query
	case *queryir.Select:
		return query
	default:
		return nil
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// irValueToParam converts an ir.IRValue to a Go native type for SQL parameter.
// Supports string, int, bool. Arrays, objects and null are rejected: columns
// are NOT NULL and scalar.
func irValueToParam(v ir.IRValue) (any, error) {
	switch val := v.(type) {
	case ir.IRString:
		return string(val), nil
	case ir.IRInt:
		return int64(val), nil
	case ir.IRBool:
		return bool(val), nil
	case ir.IRNull, nil:
		return nil, fmt.Errorf("null cannot be used as SQL parameter")
	case ir.IRArray:
		return nil, fmt.Errorf("IRArray cannot be used as SQL parameter directly")
	case ir.IRObject:
		return nil, fmt.Errorf("IRObject cannot be used as SQL parameter directly")
	default:
		return nil, fmt.Errorf("unsupported IRValue type for SQL parameter: %T", v)
	}
}
