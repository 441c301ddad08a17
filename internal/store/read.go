package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/querysql"
)

// Change is one entry of the change log.
type Change struct {
	Seq      int64   `json:"seq"`
	Table    string  `json:"table"`
	Op       Op      `json:"op"`
	RowIDs   []int64 `json:"row_ids"`
	Affected int     `json:"affected"`
}

// Select runs a compiled read and converts each row to an IRObject keyed by
// output column name. Column types come from the applied catalog.
//
// Returns an empty slice (not nil) when no rows match.
func (s *Store) Select(ctx context.Context, query string, params []any, columns []querysql.Column) ([]ir.IRObject, error) {
	types := make([]config.ColumnType, len(columns))
	for i, col := range columns {
		table, ok := s.catalog[col.Table]
		if !ok {
			return nil, fmt.Errorf("select: unknown table %q", col.Table)
		}
		ct, ok := table.Column(col.Field)
		if !ok {
			return nil, fmt.Errorf("select: unknown column %s.%s", col.Table, col.Field)
		}
		types[i] = ct
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	names, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	if len(names) != len(columns) {
		return nil, fmt.Errorf("select: query returned %d columns, expected %d", len(names), len(columns))
	}

	result := []ir.IRObject{}
	raw := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("select: scan: %w", err)
		}
		row := make(ir.IRObject, len(columns))
		for i, col := range columns {
			v, err := scanValue(raw[i], types[i])
			if err != nil {
				return nil, fmt.Errorf("select: column %s: %w", col.Name, err)
			}
			row[col.Name] = v
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return result, nil
}

// LastSeq returns the highest change seq, or 0 for an empty log.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, "SELECT MAX(seq) FROM changes").Scan(&seq); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// ChangesSince returns changes with seq > since in seq order, at most limit
// entries (limit <= 0 means no limit). Tables, when given, filters by table.
func (s *Store) ChangesSince(ctx context.Context, since int64, limit int, tables ...string) ([]Change, error) {
	query := "SELECT seq, table_name, op, row_ids, affected FROM changes WHERE seq > ?"
	args := []any{since}
	if len(tables) > 0 {
		query += " AND table_name IN (?" + strings.Repeat(", ?", len(tables)-1) + ")"
		for _, t := range tables {
			args = append(args, t)
		}
	}
	query += " ORDER BY seq ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("changes since %d: %w", since, err)
	}
	defer rows.Close()

	changes := []Change{}
	for rows.Next() {
		var (
			c      Change
			rowIDs string
		)
		if err := rows.Scan(&c.Seq, &c.Table, &c.Op, &rowIDs, &c.Affected); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		if c.RowIDs, err = unmarshalRowIDs(rowIDs); err != nil {
			return nil, err
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}
