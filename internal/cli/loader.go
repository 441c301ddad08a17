package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/roach88/liveq/internal/config"
	"github.com/roach88/liveq/internal/engine"
	"github.com/roach88/liveq/internal/session"
	"github.com/roach88/liveq/internal/store"
)

// Error codes for command-level failures. Document validation uses the
// compiler's E2xx codes.
const (
	ErrCodeGeneric  = "E001" // Generic/unknown error
	ErrCodeNotFound = "E005" // Path not found
	ErrCodeCompile  = "E100" // Document does not compile
)

// StdinPath names standard input as a document source.
const StdinPath = "-"

// loadDocument reads a query document from path, or from stdin when path
// is "-". The returned name is used in compiler positions.
func loadDocument(path string, stdin io.Reader) (string, string, error) {
	if path == StdinPath {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", "", fmt.Errorf("read stdin: %w", err)
		}
		return "<stdin>", string(data), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", "", NewExitError(ExitCommandError, fmt.Sprintf("%s: document not found: %s", ErrCodeNotFound, path))
	}
	if err != nil {
		return "", "", WrapExitError(ExitCommandError, "failed to read document", err)
	}
	return path, string(data), nil
}

// runtime is an opened database with an engine and a session manager on
// top of it.
type runtime struct {
	store   *store.Store
	engine  *engine.Engine
	manager *session.Manager
}

// openRuntime opens cfg.Database, creates the catalog tables and builds the
// engine and manager with the configured session tuning.
func openRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	if err := st.ApplyCatalog(ctx, cfg.Tables); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to apply catalog", err)
	}

	eng, err := engine.New(ctx, st, engine.WithLogger(logger))
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	manager := session.NewManager(eng,
		session.WithProbeWindow(cfg.Session.ProbeWindow),
		session.WithImmediateTimeout(cfg.Session.ImmediateTimeout),
		session.WithNextBuffer(cfg.Session.NextBuffer),
		session.WithLogger(logger),
	)
	return &runtime{store: st, engine: eng, manager: manager}, nil
}

// close shuts down in dependency order: sessions first, then the engine's
// watchers, then the database.
func (r *runtime) close(ctx context.Context) error {
	err := r.manager.Close(ctx)
	r.engine.Close()
	if cerr := r.store.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
