package transport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/roach88/liveq/internal/session"
	"github.com/roach88/liveq/internal/store"
)

const (
	DefaultWriteTimeout = 10 * time.Second
	DefaultPingInterval = 30 * time.Second
	DefaultReadLimit    = 1 << 20
)

// ChangeSource serves the change log over GET /changes.
type ChangeSource interface {
	ChangesSince(ctx context.Context, since int64, limit int, tables ...string) ([]store.Change, error)
}

type options struct {
	codec        Codec
	ids          IDGenerator
	log          *slog.Logger
	changes      ChangeSource
	writeTimeout time.Duration
	pingInterval time.Duration
	readLimit    int64
}

// Option configures a Server.
type Option func(*options)

// WithCodec sets the frame codec. Default JSON.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != nil {
			o.codec = c
		}
	}
}

// WithIDGenerator sets the connection id generator. Default UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		if g != nil {
			o.ids = g
		}
	}
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithChangeSource enables GET /changes.
func WithChangeSource(src ChangeSource) Option {
	return func(o *options) {
		o.changes = src
	}
}

// WithWriteTimeout bounds each frame write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithPingInterval sets the keepalive interval. A client that sends
// nothing, not even a pong, for two intervals is disconnected.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pingInterval = d
		}
	}
}

// Server exposes a session.Manager over WebSocket and HTTP.
//
// Routes:
//
//	GET /ws        command socket
//	GET /sessions  open session keys
//	GET /healthz   liveness and counters
//	GET /changes   change log (when a ChangeSource is configured)
type Server struct {
	manager  *session.Manager
	opts     *options
	router   chi.Router
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*conn
	wg    sync.WaitGroup
}

// NewServer creates a Server for m.
func NewServer(m *session.Manager, opts ...Option) *Server {
	o := &options{
		codec:        JSONCodec{},
		ids:          UUIDv7Generator{},
		log:          slog.Default(),
		writeTimeout: DefaultWriteTimeout,
		pingInterval: DefaultPingInterval,
		readLimit:    DefaultReadLimit,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		manager: m,
		opts:    o,
		router:  chi.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[string]*conn),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Get("/ws", s.handleWS)
	s.router.Group(func(r chi.Router) {
		r.Use(s.logRequests)
		r.Get("/healthz", s.handleHealth)
		r.Get("/sessions", s.handleSessions)
		if o.changes != nil {
			r.Get("/changes", s.handleChanges)
		}
	})
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Connections returns the number of open WebSocket connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close disconnects every client, unsubscribing their sessions, and waits
// for the connection handlers to exit or ctx to end.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.opts.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := newConn(s.opts.ids.Generate(), ws, s.manager, s.opts)
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.wg.Add(1)

	defer func() {
		s.mu.Lock()
		delete(s.conns, c.id)
		s.mu.Unlock()
		s.wg.Done()
	}()

	c.log.Info("connection opened", "remote", r.RemoteAddr, "codec", s.opts.codec.Name())
	// The request context ends when the handler returns; commands run
	// under a context that lives as long as the connection.
	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer cancel()
	c.serve(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"sessions":    s.manager.Len(),
		"connections": s.Connections(),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.manager.Keys()})
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := parseInt(q.Get("since"), 0)
	if err != nil || since < 0 {
		writeError(w, http.StatusBadRequest, "invalid 'since'")
		return
	}
	limit, err := parseInt(q.Get("limit"), 100)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid 'limit'")
		return
	}

	changes, err := s.opts.changes.ChangesSince(r.Context(), since, int(limit), q["table"]...)
	if err != nil {
		s.opts.log.Error("read changes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": changes})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func parseInt(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}
