package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startServe runs the serve command until the returned cancel is called.
func startServe(t *testing.T, f *fixture, extra func(*ServeOptions)) (string, context.CancelFunc, <-chan error) {
	t.Helper()

	addrs := make(chan string, 1)
	opts := &ServeOptions{
		RootOptions: &RootOptions{Format: "text", Config: f.config},
		ready:       func(addr string) { addrs <- addr },
	}
	if extra != nil {
		extra(opts)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()

	select {
	case addr := <-addrs:
		return addr, cancel, done
	case err := <-done:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("serve did not start listening")
	}
	return "", cancel, done
}

func waitStopped(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(ShutdownTimeout):
		t.Fatal("serve did not stop")
	}
}

func TestServe_HTTPRoutes(t *testing.T) {
	f := newFixture(t)
	addr, cancel, done := startServe(t, f, nil)

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/changes?since=0")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	waitStopped(t, done)
}

func TestServe_WebSocketSession(t *testing.T) {
	f := newFixture(t)
	addr, cancel, done := startServe(t, f, nil)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	send := func(v any) {
		require.NoError(t, ws.WriteJSON(v))
	}
	read := func() map[string]any {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
		var m map[string]any
		require.NoError(t, ws.ReadJSON(&m))
		return m
	}
	fetch := func(id int, op string, vars any) {
		send(map[string]any{
			"id":      id,
			"command": "fetch_query",
			"args":    map[string]any{"query": storesDocument, "operationName": op, "variables": vars},
		})
	}

	fetch(1, "Watch", nil)
	reply := read()
	assert.Equal(t, float64(1), reply["id"])
	assert.Equal(t, map[string]any{"pending": float64(1)}, reply["result"])

	first := read()
	assert.Equal(t, "next", first["event"])

	fetch(2, "Add", map[string]any{"name": "north"})
	var second map[string]any
	for second == nil {
		m := read()
		if m["event"] == "next" {
			second = m
			continue
		}
		assert.Equal(t, float64(2), m["id"])
	}
	payload, err := json.Marshal(second["payload"])
	require.NoError(t, err)
	assert.JSONEq(t, `{"next":{"stores":[{"id":1,"name":"north"}]},"subscription":1}`, string(payload))

	cancel()
	waitStopped(t, done)
}

func TestServe_FlagsOverrideConfig(t *testing.T) {
	f := newFixture(t)
	other := f.dir + "/override.db"
	addr, cancel, done := startServe(t, f, func(o *ServeOptions) {
		o.Database = other
		o.Codec = "cbor"
	})

	_, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	require.NoError(t, err)

	cancel()
	waitStopped(t, done)
	assert.FileExists(t, other)
}

func TestServe_InvalidCodec(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "serve", "--codec", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
