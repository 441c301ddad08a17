package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/liveq/internal/config"
)

func testCatalog() config.Catalog {
	return config.Catalog{
		"stores": {Columns: map[string]config.ColumnType{
			"name":   config.ColumnString,
			"status": config.ColumnString,
			"open":   config.ColumnBool,
			"rank":   config.ColumnInt,
		}},
		"items": {Columns: map[string]config.ColumnType{
			"store_id": config.ColumnInt,
			"sku":      config.ColumnString,
		}},
	}
}

// createTestStore creates a new store with the test catalog applied.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.ApplyCatalog(context.Background(), testCatalog()); err != nil {
		t.Fatalf("ApplyCatalog() failed: %v", err)
	}
	return s
}
