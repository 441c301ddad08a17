package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/liveq/internal/session"
)

var errConnClosed = errors.New("connection closed")

// conn is one WebSocket client. It is the session.Sink for every query it
// starts and owns the keys of its streaming sessions.
type conn struct {
	id      string
	ws      *websocket.Conn
	codec   Codec
	manager *session.Manager
	log     *slog.Logger
	opts    *options

	writeMu sync.Mutex

	keysMu sync.Mutex
	keys   map[session.Key]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, m *session.Manager, opts *options) *conn {
	return &conn{
		id:      id,
		ws:      ws,
		codec:   opts.codec,
		manager: m,
		log:     opts.log.With("conn", id),
		opts:    opts,
		keys:    make(map[session.Key]struct{}),
		done:    make(chan struct{}),
	}
}

// Emit implements session.Sink.
func (c *conn) Emit(_ context.Context, event string, payload []byte) error {
	select {
	case <-c.done:
		return errConnClosed
	default:
	}
	return c.write(EventFrame{Event: event, Payload: payload})
}

// write encodes v and sends one frame. Writes are serialized.
func (c *conn) write(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(v)
}

func (c *conn) writeLocked(v any) error {
	data, err := c.codec.Marshal(v)
	if err != nil {
		return err
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(c.codec.MessageType(), data)
}

// serve runs the read loop until the client goes away, then unsubscribes
// every session the connection still owns.
func (c *conn) serve(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(c.opts.readLimit)
	pongWait := 2 * c.opts.pingInterval
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.pingLoop()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("read failed", "error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		var req Request
		if err := c.codec.Unmarshal(data, &req); err != nil {
			c.reply(Response{Error: "malformed request: " + err.Error()})
			continue
		}
		c.handle(ctx, req)
	}
}

func (c *conn) reply(resp Response) {
	if err := c.write(resp); err != nil {
		c.log.Warn("reply failed", "id", resp.ID, "error", err)
	}
}

func (c *conn) handle(ctx context.Context, req Request) {
	switch req.Command {
	case CommandFetchQuery:
		c.fetch(ctx, req)

	case CommandUnsubscribe:
		if err := c.manager.Unsubscribe(req.Args.Subscription); err != nil {
			c.reply(Response{ID: req.ID, Error: c.errorText(err)})
			return
		}
		c.untrack(req.Args.Subscription)
		c.reply(Response{ID: req.ID})

	default:
		c.reply(Response{ID: req.ID, Error: "unknown command " + req.Command})
	}
}

// fetch starts a query and writes its reply while holding the write lock,
// so the pending reply reaches the client before any event for its key.
func (c *conn) fetch(ctx context.Context, req Request) {
	vars, err := req.Args.VariablesText()
	if err != nil {
		c.reply(Response{ID: req.ID, Error: err.Error()})
		return
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var resp Response
	reply, err := c.manager.FetchQuery(ctx, c, req.Args.Query, req.Args.OperationName, vars)
	if err != nil {
		resp = Response{ID: req.ID, Error: c.errorText(err)}
	} else {
		if !reply.Immediate {
			c.track(reply.Pending)
		}
		resp = Response{ID: req.ID, Result: reply}
	}
	if err := c.writeLocked(resp); err != nil {
		c.log.Warn("reply failed", "id", req.ID, "error", err)
	}
}

// errorText exposes caller-facing failures and hides internal ones.
func (c *conn) errorText(err error) string {
	switch {
	case session.IsValidation(err),
		errors.Is(err, session.ErrSerialization),
		errors.Is(err, session.ErrImmediateTimeout),
		errors.Is(err, session.ErrClosed):
		return err.Error()
	}
	c.log.Error("command failed", "error", err)
	return "internal error"
}

// track records key as owned by this connection until the session closes
// or the connection goes away.
func (c *conn) track(key session.Key) {
	c.keysMu.Lock()
	select {
	case <-c.done:
		// The connection went away while the query was starting. The
		// caller may hold the write lock a delivery is waiting on.
		c.keysMu.Unlock()
		go c.manager.Unsubscribe(key)
		return
	default:
	}
	c.keys[key] = struct{}{}
	c.keysMu.Unlock()

	closed := c.manager.Closed(key)
	go func() {
		select {
		case <-closed:
			c.untrack(key)
		case <-c.done:
		}
	}()
}

func (c *conn) untrack(key session.Key) {
	c.keysMu.Lock()
	delete(c.keys, key)
	c.keysMu.Unlock()
}

// ownedKeys returns the keys this connection still owns.
func (c *conn) ownedKeys() []session.Key {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	keys := make([]session.Key, 0, len(c.keys))
	for k := range c.keys {
		keys = append(keys, k)
	}
	return keys
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(c.opts.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(c.opts.writeTimeout)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.log.Debug("ping failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

// close unsubscribes every owned session and closes the socket. Idempotent.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		keys := c.ownedKeys()
		for _, key := range keys {
			_ = c.manager.Unsubscribe(key)
		}
		c.log.Info("connection closed", "sessions", len(keys))

		c.writeMu.Lock()
		deadline := time.Now().Add(c.opts.writeTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		c.writeMu.Unlock()
		_ = c.ws.Close()
	})
}
