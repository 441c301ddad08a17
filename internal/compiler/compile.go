package compiler

import (
	"fmt"
	"slices"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/queryir"
)

// VariableSigil prefixes variable references in where, values and set
// clauses. A doubled sigil escapes a literal string.
const VariableSigil = "$"

var topLevelFields = []string{"query", "subscription", "mutation"}

// CompileDocument parses CUE query text into a Document.
// Uses the CUE SDK's Go API directly (not a CLI subprocess).
//
//	query: Stores: {from: "stores", select: ["id", "name"]}
//	subscription: Watch: {from: "stores", select: ["id"], take: 3}
//	mutation: Open: {update: "stores", set: {open: true}, where: {id: "$id"}}
func CompileDocument(filename, source string) (*Document, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		if !slices.Contains(topLevelFields, iter.Selector().String()) {
			return nil, &CompileError{
				Field:   iter.Selector().String(),
				Message: "unknown top-level block; expected query, subscription or mutation",
				Pos:     iter.Value().Pos(),
			}
		}
	}

	doc := &Document{Hash: ir.DocumentHash(source)}
	for _, kind := range Kinds {
		block := v.LookupPath(cue.ParsePath(string(kind)))
		if !block.Exists() {
			continue
		}
		ops, err := compileBlock(kind, block)
		if err != nil {
			return nil, err
		}
		doc.Operations = append(doc.Operations, ops...)
	}

	if len(doc.Operations) == 0 {
		return nil, &CompileError{
			Field:   "document",
			Message: "at least one operation is required",
			Pos:     v.Pos(),
		}
	}
	return doc, nil
}

func compileBlock(kind OperationKind, block cue.Value) ([]*Operation, error) {
	iter, err := block.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   string(kind),
			Message: "must be a struct of named operations",
			Pos:     block.Pos(),
		}
	}

	var ops []*Operation
	for iter.Next() {
		name := iter.Selector().String()
		val := iter.Value()
		field := string(kind) + "." + name

		var op *Operation
		if kind == KindMutation {
			op, err = compileMutation(field, val)
		} else {
			op, err = compileRead(kind, field, val)
		}
		if err != nil {
			return nil, err
		}
		op.Kind = kind
		op.Name = name
		op.Pos = val.Pos()
		ops = append(ops, op)
	}
	return ops, nil
}

// compileRead compiles a query or subscription body.
func compileRead(kind OperationKind, field string, v cue.Value) (*Operation, error) {
	if err := checkFields(field, v, "from", "select", "where", "join", "take"); err != nil {
		return nil, err
	}

	sel, err := compileSelect(field, v)
	if err != nil {
		return nil, err
	}
	op := &Operation{Query: *sel, Root: sel.From}

	joinVal := v.LookupPath(cue.ParsePath("join"))
	if joinVal.Exists() {
		join, err := compileJoin(field+".join", joinVal, *sel)
		if err != nil {
			return nil, err
		}
		op.Query = join
	}

	takeVal := v.LookupPath(cue.ParsePath("take"))
	if takeVal.Exists() {
		take, err := takeVal.Int64()
		if err != nil {
			return nil, &CompileError{
				Field:   field + ".take",
				Message: "take must be an integer",
				Pos:     takeVal.Pos(),
			}
		}
		if kind != KindSubscription {
			return nil, &CompileError{
				Field:   field + ".take",
				Message: "take is only valid on subscriptions",
				Pos:     takeVal.Pos(),
			}
		}
		op.Take = int(take)
	}
	return op, nil
}

func compileSelect(field string, v cue.Value) (*queryir.Select, error) {
	from, err := requiredString(field, v, "from")
	if err != nil {
		return nil, err
	}

	sel := &queryir.Select{From: from, Bindings: map[string]string{}}

	selectVal := v.LookupPath(cue.ParsePath("select"))
	if !selectVal.Exists() {
		return nil, &CompileError{
			Field:   field + ".select",
			Message: "select is required",
			Pos:     v.Pos(),
		}
	}
	cols, err := stringList(field+".select", selectVal)
	if err != nil {
		return nil, err
	}
	for _, col := range cols {
		if _, dup := sel.Bindings[col]; dup {
			return nil, &CompileError{
				Field:   field + ".select",
				Message: fmt.Sprintf("column %q selected twice", col),
				Pos:     selectVal.Pos(),
			}
		}
		sel.Bindings[col] = col
	}

	whereVal := v.LookupPath(cue.ParsePath("where"))
	if whereVal.Exists() {
		pred, err := compileWhere(field+".where", whereVal)
		if err != nil {
			return nil, err
		}
		sel.Filter = pred
	}
	return sel, nil
}

// compileJoin compiles {from, on: {right_col: "left_col"}, select, where?}.
func compileJoin(field string, v cue.Value, left queryir.Select) (queryir.Join, error) {
	if err := checkFields(field, v, "from", "on", "select", "where"); err != nil {
		return queryir.Join{}, err
	}
	right, err := compileSelect(field, v)
	if err != nil {
		return queryir.Join{}, err
	}

	onVal := v.LookupPath(cue.ParsePath("on"))
	if !onVal.Exists() {
		return queryir.Join{}, &CompileError{
			Field:   field + ".on",
			Message: "join requires an on clause",
			Pos:     v.Pos(),
		}
	}
	iter, err := onVal.Fields()
	if err != nil {
		return queryir.Join{}, formatCUEError(err)
	}
	var preds []queryir.Predicate
	for iter.Next() {
		rightCol := iter.Selector().String()
		leftCol, err := iter.Value().String()
		if err != nil {
			return queryir.Join{}, &CompileError{
				Field:   field + ".on." + rightCol,
				Message: "join condition must name a column of " + left.From,
				Pos:     iter.Value().Pos(),
			}
		}
		preds = append(preds, queryir.FieldEquals{Left: leftCol, Right: rightCol})
	}
	if len(preds) == 0 {
		return queryir.Join{}, &CompileError{
			Field:   field + ".on",
			Message: "join on clause must not be empty",
			Pos:     onVal.Pos(),
		}
	}

	join := queryir.Join{Left: left, Right: *right}
	if len(preds) == 1 {
		join.On = preds[0]
	} else {
		join.On = queryir.And{Predicates: preds}
	}
	return join, nil
}

// compileWhere compiles {column: literal | "$var"} into an equality
// conjunction in declaration order.
func compileWhere(field string, v cue.Value) (queryir.Predicate, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "where must be a struct of column: value",
			Pos:     v.Pos(),
		}
	}

	var preds []queryir.Predicate
	for iter.Next() {
		col := iter.Selector().String()
		val, bound, err := compileTerm(field+"."+col, iter.Value())
		if err != nil {
			return nil, err
		}
		if bound != "" {
			preds = append(preds, queryir.BoundEquals{Field: col, BoundVar: bound})
		} else {
			preds = append(preds, queryir.Equals{Field: col, Value: val})
		}
	}

	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	default:
		return queryir.And{Predicates: preds}, nil
	}
}

// compileMutation compiles an insert, update or delete body.
func compileMutation(field string, v cue.Value) (*Operation, error) {
	if err := checkFields(field, v, "insert", "update", "delete", "values", "set", "where"); err != nil {
		return nil, err
	}

	m := &Mutation{}
	for _, kind := range []MutationKind{MutationInsert, MutationUpdate, MutationDelete} {
		tv := v.LookupPath(cue.ParsePath(string(kind)))
		if !tv.Exists() {
			continue
		}
		if m.Kind != "" {
			return nil, &CompileError{
				Field:   field,
				Message: "mutation must use exactly one of insert, update or delete",
				Pos:     tv.Pos(),
			}
		}
		table, err := tv.String()
		if err != nil {
			return nil, &CompileError{
				Field:   field + "." + string(kind),
				Message: "must be a table name",
				Pos:     tv.Pos(),
			}
		}
		m.Kind = kind
		m.Table = table
	}
	if m.Kind == "" {
		return nil, &CompileError{
			Field:   field,
			Message: "mutation requires insert, update or delete",
			Pos:     v.Pos(),
		}
	}

	allowed := map[MutationKind][]string{
		MutationInsert: {"values"},
		MutationUpdate: {"set", "where"},
		MutationDelete: {"where"},
	}
	for _, clause := range []string{"values", "set", "where"} {
		cv := v.LookupPath(cue.ParsePath(clause))
		if !cv.Exists() {
			continue
		}
		if !slices.Contains(allowed[m.Kind], clause) {
			return nil, &CompileError{
				Field:   field + "." + clause,
				Message: fmt.Sprintf("%s is not valid for %s", clause, m.Kind),
				Pos:     cv.Pos(),
			}
		}
		if clause == "where" {
			pred, err := compileWhere(field+".where", cv)
			if err != nil {
				return nil, err
			}
			m.Where = pred
			continue
		}
		values, err := compileAssignments(field+"."+clause, cv)
		if err != nil {
			return nil, err
		}
		m.Values = values
	}

	return &Operation{Mutation: m, Root: m.Table}, nil
}

func compileAssignments(field string, v cue.Value) ([]queryir.Assignment, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "must be a struct of column: value",
			Pos:     v.Pos(),
		}
	}
	var out []queryir.Assignment
	for iter.Next() {
		col := iter.Selector().String()
		val, bound, err := compileTerm(field+"."+col, iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, queryir.Assignment{Field: col, Value: val, BoundVar: bound})
	}
	return out, nil
}

// compileTerm decodes a scalar literal or a "$var" reference.
// Floats are forbidden; only string, int and bool literals are accepted.
func compileTerm(field string, v cue.Value) (ir.IRValue, string, error) {
	switch v.Kind() {
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, "", formatCUEError(err)
		}
		if strings.HasPrefix(s, VariableSigil+VariableSigil) {
			return ir.IRString(s[1:]), "", nil
		}
		if name, ok := strings.CutPrefix(s, VariableSigil); ok {
			if name == "" {
				return nil, "", &CompileError{Field: field, Message: "empty variable reference", Pos: v.Pos()}
			}
			return nil, name, nil
		}
		return ir.IRString(s), "", nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, "", formatCUEError(err)
		}
		return ir.IRInt(n), "", nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, "", formatCUEError(err)
		}
		return ir.IRBool(b), "", nil
	case cue.FloatKind, cue.NumberKind:
		return nil, "", &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Pos:     v.Pos(),
		}
	default:
		return nil, "", &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

func requiredString(field string, v cue.Value, name string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(name))
	if !sv.Exists() {
		return "", &CompileError{Field: field + "." + name, Message: "is required", Pos: v.Pos()}
	}
	s, err := sv.String()
	if err != nil {
		return "", &CompileError{Field: field + "." + name, Message: "must be a string", Pos: sv.Pos()}
	}
	return s, nil
}

func stringList(field string, v cue.Value) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list of column names", Pos: v.Pos()}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{Field: field, Message: "column names must be strings", Pos: iter.Value().Pos()}
		}
		out = append(out, s)
	}
	return out, nil
}

// checkFields rejects struct fields outside allowed.
func checkFields(field string, v cue.Value, allowed ...string) error {
	iter, err := v.Fields()
	if err != nil {
		return &CompileError{Field: field, Message: "must be a struct", Pos: v.Pos()}
	}
	for iter.Next() {
		name := iter.Selector().String()
		if !slices.Contains(allowed, name) {
			return &CompileError{
				Field:   field + "." + name,
				Message: fmt.Sprintf("unknown field; expected one of %s", strings.Join(allowed, ", ")),
				Pos:     iter.Value().Pos(),
			}
		}
	}
	return nil
}

func sortedUnique(in []string) []string {
	slices.Sort(in)
	return slices.Compact(in)
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
