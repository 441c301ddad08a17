package compiler

import (
	"fmt"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/queryir"
	"github.com/roach88/liveq/internal/querysql"
)

// Validation error codes (E200-E299)
const (
	ErrNoOperations       = "E200" // document declares no operations
	ErrUnknownTable       = "E201" // table not in catalog
	ErrUnknownColumn      = "E202" // column not declared on table
	ErrEmptySelect        = "E203" // select list is empty
	ErrInvalidTake        = "E204" // take is negative
	ErrTypeMismatch       = "E205" // literal does not match column type
	ErrMissingWhere       = "E206" // update/delete without where
	ErrDuplicateOutput    = "E207" // join output column selected twice
	ErrDuplicateOperation = "E208" // operation name declared in two blocks
	ErrEmptySet           = "E209" // update sets no columns
	ErrIDAssignment       = "E210" // id is assigned by the store
)

// ValidationError represents a document validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is a non-empty list of validation failures.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	if len(errs) == 1 {
		return errs[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", errs[0].Error(), len(errs)-1)
}

// Validate checks a compiled document against the table catalog.
// Returns all errors found (does not fail-fast).
func Validate(doc *Document, catalog config.Catalog) []ValidationError {
	if len(doc.Operations) == 0 {
		return []ValidationError{{
			Field:   "document",
			Message: "at least one operation is required",
			Code:    ErrNoOperations,
		}}
	}

	var errs []ValidationError
	seen := make(map[string]OperationKind)
	for _, op := range doc.Operations {
		v := &opValidator{op: op, catalog: catalog, field: string(op.Kind) + "." + op.Name}
		if op.Pos.IsValid() {
			v.line = op.Pos.Line()
		}

		// E208: operation names resolve across blocks
		if prev, dup := seen[op.Name]; dup {
			v.add(v.field, ErrDuplicateOperation, "operation %q is also declared as a %s", op.Name, prev)
		}
		seen[op.Name] = op.Kind

		if op.Mutation != nil {
			v.validateMutation(op.Mutation)
		} else {
			v.validateRead()
		}
		errs = append(errs, v.errs...)
	}
	return errs
}

type opValidator struct {
	op      *Operation
	catalog config.Catalog
	field   string
	line    int
	errs    []ValidationError
}

func (v *opValidator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
		Line:    v.line,
	})
}

func (v *opValidator) table(field, name string) (config.Table, bool) {
	t, ok := v.catalog[name]
	if !ok {
		v.add(field, ErrUnknownTable, "unknown table %q", name)
	}
	return t, ok
}

func (v *opValidator) column(field string, table string, t config.Table, col string) (config.ColumnType, bool) {
	ct, ok := t.Column(col)
	if !ok {
		v.add(field, ErrUnknownColumn, "table %q has no column %q", table, col)
	}
	return ct, ok
}

func (v *opValidator) validateRead() {
	if v.op.Take < 0 {
		v.add(v.field+".take", ErrInvalidTake, "take must be >= 0, got %d", v.op.Take)
	}

	switch q := v.op.Query.(type) {
	case queryir.Select:
		v.validateSelect(v.field, q)
	case queryir.Join:
		left, _ := q.Left.(queryir.Select)
		right, _ := q.Right.(queryir.Select)
		v.validateSelect(v.field, left)
		v.validateSelect(v.field+".join", right)
		v.validateOn(v.field+".join.on", left, right, q.On)
		if _, err := querysql.Columns(q); err != nil {
			v.add(v.field+".join.select", ErrDuplicateOutput, "%v", err)
		}
	default:
		v.add(v.field, ErrUnknownTable, "unsupported query shape %T", v.op.Query)
	}
}

func (v *opValidator) validateSelect(field string, sel queryir.Select) {
	t, ok := v.table(field+".from", sel.From)

	if len(sel.Bindings) == 0 {
		v.add(field+".select", ErrEmptySelect, "select must name at least one column")
	}
	if !ok {
		return
	}
	for _, col := range sortedBindingKeys(sel.Bindings) {
		v.column(field+".select", sel.From, t, col)
	}
	v.validatePredicate(field+".where", sel.From, t, sel.Filter)
}

func (v *opValidator) validateOn(field string, left, right queryir.Select, on queryir.Predicate) {
	lt, lok := v.catalog[left.From]
	rt, rok := v.catalog[right.From]
	if !lok || !rok {
		return
	}
	var preds []queryir.Predicate
	switch p := on.(type) {
	case queryir.And:
		preds = p.Predicates
	case nil:
	default:
		preds = []queryir.Predicate{p}
	}
	for _, p := range preds {
		fe, ok := p.(queryir.FieldEquals)
		if !ok {
			continue
		}
		lct, lok := v.column(field+"."+fe.Right, left.From, lt, fe.Left)
		rct, rok := v.column(field+"."+fe.Right, right.From, rt, fe.Right)
		if lok && rok && lct != rct {
			v.add(field+"."+fe.Right, ErrTypeMismatch, "cannot join %s %s.%s with %s %s.%s",
				lct, left.From, fe.Left, rct, right.From, fe.Right)
		}
	}
}

func (v *opValidator) validatePredicate(field, table string, t config.Table, p queryir.Predicate) {
	switch pred := p.(type) {
	case nil:
	case queryir.And:
		for _, sub := range pred.Predicates {
			v.validatePredicate(field, table, t, sub)
		}
	case queryir.Equals:
		if ct, ok := v.column(field+"."+pred.Field, table, t, pred.Field); ok {
			v.checkLiteral(field+"."+pred.Field, ct, pred.Value)
		}
	case queryir.BoundEquals:
		v.column(field+"."+pred.Field, table, t, pred.Field)
	}
}

func (v *opValidator) checkLiteral(field string, ct config.ColumnType, val ir.IRValue) {
	var ok bool
	switch val.(type) {
	case ir.IRString:
		ok = ct == config.ColumnString
	case ir.IRInt:
		ok = ct == config.ColumnInt
	case ir.IRBool:
		ok = ct == config.ColumnBool
	}
	if !ok {
		v.add(field, ErrTypeMismatch, "value %s does not match column type %s", literalString(val), ct)
	}
}

func (v *opValidator) validateMutation(m *Mutation) {
	field := v.field + "." + string(m.Kind)
	t, ok := v.table(field, m.Table)
	if !ok {
		return
	}

	clause := "values"
	if m.Kind == MutationUpdate {
		clause = "set"
		if len(m.Values) == 0 {
			v.add(v.field+".set", ErrEmptySet, "update must set at least one column")
		}
	}
	for _, a := range m.Values {
		afield := v.field + "." + clause + "." + a.Field
		if a.Field == "id" {
			v.add(afield, ErrIDAssignment, "id is assigned by the store")
			continue
		}
		ct, ok := v.column(afield, m.Table, t, a.Field)
		if ok && a.BoundVar == "" {
			v.checkLiteral(afield, ct, a.Value)
		}
	}

	if m.Kind != MutationInsert {
		if m.Where == nil {
			v.add(v.field+".where", ErrMissingWhere, "%s requires a where clause", m.Kind)
		}
		v.validatePredicate(v.field+".where", m.Table, t, m.Where)
	}
}

func literalString(val ir.IRValue) string {
	b, err := ir.MarshalIRValue(val)
	if err != nil {
		return fmt.Sprintf("%T", val)
	}
	return string(b)
}

func sortedBindingKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return sortedUnique(keys)
}
