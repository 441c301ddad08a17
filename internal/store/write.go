package store

import (
	"context"
	"fmt"
)

// Op is the kind of write recorded in the change log.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Insert runs a compiled INSERT ... RETURNING id and records the change
// under seq.
func (s *Store) Insert(ctx context.Context, seq int64, table, query string, params []any) (Change, error) {
	return s.mutate(ctx, seq, OpInsert, table, query, params)
}

// Update runs a compiled UPDATE ... RETURNING id and records the change.
func (s *Store) Update(ctx context.Context, seq int64, table, query string, params []any) (Change, error) {
	return s.mutate(ctx, seq, OpUpdate, table, query, params)
}

// Delete runs a compiled DELETE ... RETURNING id and records the change.
func (s *Store) Delete(ctx context.Context, seq int64, table, query string, params []any) (Change, error) {
	return s.mutate(ctx, seq, OpDelete, table, query, params)
}

// mutate applies a write and appends its change row in one transaction.
// A write that touches no rows is not logged; the returned Change has
// Affected 0 and Seq 0.
func (s *Store) mutate(ctx context.Context, seq int64, op Op, table, query string, params []any) (Change, error) {
	if _, ok := s.catalog[table]; !ok {
		return Change{}, fmt.Errorf("%s: unknown table %q", op, table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, fmt.Errorf("%s %s: %w", op, table, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, query, params...)
	if err != nil {
		return Change{}, fmt.Errorf("%s %s: %w", op, table, err)
	}
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return Change{}, fmt.Errorf("%s %s: scan id: %w", op, table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Close(); err != nil {
		return Change{}, fmt.Errorf("%s %s: %w", op, table, err)
	}
	if err := rows.Err(); err != nil {
		return Change{}, fmt.Errorf("%s %s: %w", op, table, err)
	}

	change := Change{Table: table, Op: op, RowIDs: ids, Affected: len(ids)}
	if len(ids) == 0 {
		return change, tx.Commit()
	}

	rowIDs, err := marshalRowIDs(ids)
	if err != nil {
		return Change{}, err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changes (seq, table_name, op, row_ids, affected)
		VALUES (?, ?, ?, ?, ?)
	`, seq, table, string(op), rowIDs, len(ids))
	if err != nil {
		return Change{}, fmt.Errorf("%s %s: record change: %w", op, table, err)
	}

	if err := tx.Commit(); err != nil {
		return Change{}, fmt.Errorf("%s %s: %w", op, table, err)
	}
	change.Seq = seq
	return change, nil
}
