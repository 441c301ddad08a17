package engine

import (
	"context"
	"fmt"

	"github.com/roach88/liveq/internal/compiler"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/querysql"
)

// evaluate runs a read operation and returns {"<root>": [rows]}, or an
// error payload.
func (e *Engine) evaluate(ctx context.Context, op *compiler.Operation, vars ir.IRObject) ir.IRObject {
	rows, err := e.read(ctx, op, vars)
	if err != nil {
		e.log.Warn("query execution failed", "operation", op.Name, "error", err)
		return errorPayload(err)
	}

	arr := make(ir.IRArray, len(rows))
	for i, row := range rows {
		arr[i] = row
	}
	return ir.IRObject{op.Root: arr}
}

func (e *Engine) read(ctx context.Context, op *compiler.Operation, vars ir.IRObject) ([]ir.IRObject, error) {
	sqlText, params, err := querysql.NewSQLCompiler(vars).Compile(op.Query)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", op.Name, err)
	}
	columns, err := querysql.Columns(op.Query)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", op.Name, err)
	}
	return e.store.Select(ctx, sqlText, params, columns)
}

// mutate applies a mutation operation and returns
// {"<name>": {"affected": n, "ids": [...], "table": t}}, or an error payload.
func (e *Engine) mutate(ctx context.Context, op *compiler.Operation, vars ir.IRObject) ir.IRObject {
	m := op.Mutation
	c := querysql.NewSQLCompiler(vars)

	var (
		sqlText string
		params  []any
		err     error
	)
	switch m.Kind {
	case compiler.MutationInsert:
		sqlText, params, err = c.CompileInsert(m.Table, m.Values)
	case compiler.MutationUpdate:
		sqlText, params, err = c.CompileUpdate(m.Table, m.Values, m.Where)
	case compiler.MutationDelete:
		sqlText, params, err = c.CompileDelete(m.Table, m.Where)
	default:
		err = fmt.Errorf("unknown mutation kind %q", m.Kind)
	}
	if err != nil {
		e.log.Warn("mutation compile failed", "operation", op.Name, "error", err)
		return errorPayload(fmt.Errorf("compile %s: %w", op.Name, err))
	}

	change, err := e.write(ctx, m.Kind, m.Table, sqlText, params)
	if err != nil {
		e.log.Warn("mutation failed", "operation", op.Name, "error", err)
		return errorPayload(err)
	}

	ids := make(ir.IRArray, len(change.RowIDs))
	for i, id := range change.RowIDs {
		ids[i] = ir.IRInt(id)
	}
	return ir.IRObject{op.Name: ir.NewIRObject(
		ir.O("affected", ir.IRInt(change.Affected)),
		ir.O("ids", ids),
		ir.O("table", ir.IRString(change.Table)),
	)}
}

// errorPayload is the result shape for execution failures:
// {"errors": [{"message": "..."}]}.
func errorPayload(err error) ir.IRObject {
	return ir.IRObject{"errors": ir.IRArray{
		ir.IRObject{"message": ir.IRString(err.Error())},
	}}
}

// encode renders a result in canonical JSON. A result that cannot be
// encoded becomes an error payload.
func encode(result ir.IRObject) []byte {
	data, err := ir.MarshalCanonical(result)
	if err == nil {
		return data
	}
	data, _ = ir.MarshalCanonical(errorPayload(fmt.Errorf("encode result: %w", err)))
	return data
}
