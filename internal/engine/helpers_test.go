package engine

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/ir"
	"github.com/roach88/liveq/internal/session"
	"github.com/roach88/liveq/internal/store"
)

const recvTimeout = 2 * time.Second

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

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.ApplyCatalog(context.Background(), testCatalog()))
	return s
}

func setupTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(context.Background(), setupTestStore(t))
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e
}

func seedStores(t *testing.T, e *Engine) {
	t.Helper()
	require.NoError(t, e.Seed(context.Background(), "stores", []ir.IRObject{
		{"name": ir.IRString("north"), "status": ir.IRString("open"), "open": ir.IRBool(true), "rank": ir.IRInt(2)},
		{"name": ir.IRString("south"), "status": ir.IRString("closed"), "open": ir.IRBool(false), "rank": ir.IRInt(1)},
	}))
}

// subscribe parses doc and subscribes to op.
func subscribe(t *testing.T, e *Engine, doc, op, vars string) session.Producer {
	t.Helper()
	q, err := e.ParseQuery(doc)
	require.NoError(t, err)
	p, err := e.Subscribe(q, op, vars)
	require.NoError(t, err)
	return p
}

// listen attaches buffered channels to p.
func listen(t *testing.T, p session.Producer) (chan session.Payload, chan struct{}) {
	t.Helper()
	next := make(chan session.Payload, 16)
	complete := make(chan struct{})
	require.NoError(t, p.Listen(next, complete))
	return next, complete
}

// runOnce runs a query or mutation operation and returns its payload.
func runOnce(t *testing.T, e *Engine, doc, op, vars string) string {
	t.Helper()
	p := subscribe(t, e, doc, op, vars)
	next, complete := listen(t, p)
	requireClosed(t, complete)
	payload := recv(t, next)
	requireDrained(t, next)
	return string(payload)
}

func recv(t *testing.T, next <-chan session.Payload) session.Payload {
	t.Helper()
	select {
	case p, ok := <-next:
		require.True(t, ok, "next closed early")
		return p
	case <-time.After(recvTimeout):
		t.Fatal("no payload received")
		return nil
	}
}

func requireClosed(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(recvTimeout):
		t.Fatal("channel not closed")
	}
}

func requireDrained(t *testing.T, next <-chan session.Payload) {
	t.Helper()
	select {
	case p, ok := <-next:
		require.False(t, ok, "unexpected payload %s", p)
	case <-time.After(recvTimeout):
		t.Fatal("next not closed")
	}
}

func requireNoPayload(t *testing.T, next <-chan session.Payload) {
	t.Helper()
	select {
	case p, ok := <-next:
		if ok {
			t.Fatalf("unexpected payload %s", p)
		}
		t.Fatal("next closed unexpectedly")
	case <-time.After(50 * time.Millisecond):
	}
}
