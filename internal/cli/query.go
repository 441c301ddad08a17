package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/liveq/internal/session"
)

// QueryOptions holds flags for the query command.
type QueryOptions struct {
	*RootOptions
	Database  string
	Operation string
	Variables string
	// Limit unsubscribes after this many pushed results; 0 waits for the
	// session to close.
	Limit int
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &QueryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "query <document.cue|->",
		Short: "Run one operation against the database",
		Long: `Start one operation of a query document against the configured database
and print what a client would receive, one JSON value per line.

The first line is the reply: {"results": ...} for queries and mutations,
{"pending": key} for subscriptions. A pending subscription then prints each
{"next": ..., "subscription": key} event until it completes, --limit
results arrive, or SIGINT unsubscribes it.

Examples:
  liveq query ./stores.cue --operation Stores
  liveq query ./stores.cue --operation Add --variables '{"name":"north"}'
  echo 'subscription: Watch: {from: "stores", select: ["id"]}' | liveq query -`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVarP(&opts.Operation, "operation", "o", "", "operation name (optional for single-operation documents)")
	cmd.Flags().StringVar(&opts.Variables, "variables", "", "variables as a JSON object")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "unsubscribe after this many results (0 = until closed)")

	return cmd
}

// lineSink writes each event payload as one line. The mutex orders the
// reply line before any event line. Results past limit are dropped.
type lineSink struct {
	mu    sync.Mutex
	w     io.Writer
	limit int
	count int
	// full is closed once limit results have been written.
	full chan struct{}
}

func newLineSink(w io.Writer, limit int) *lineSink {
	return &lineSink{w: w, limit: limit, full: make(chan struct{})}
}

func (s *lineSink) Emit(_ context.Context, _ string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.limit > 0 && s.count >= s.limit {
		return nil
	}
	if _, err := fmt.Fprintf(s.w, "%s\n", payload); err != nil {
		return err
	}
	s.count++
	if s.count == s.limit {
		close(s.full)
	}
	return nil
}

func runQuery(opts *QueryOptions, path string, cmd *cobra.Command) error {
	if opts.Limit < 0 {
		return NewExitError(ExitCommandError, "--limit must not be negative")
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	_, source, err := loadDocument(path, cmd.InOrStdin())
	if err != nil {
		return err
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(context.Background()); err != nil {
			logger.Warn("shutdown failed", "error", err)
		}
	}()

	sink := newLineSink(cmd.OutOrStdout(), opts.Limit)

	sink.mu.Lock()
	reply, err := rt.manager.FetchQuery(ctx, sink, source, opts.Operation, opts.Variables)
	if err == nil {
		var line []byte
		if line, err = reply.MarshalJSON(); err == nil {
			fmt.Fprintf(sink.w, "%s\n", line)
		}
	}
	sink.mu.Unlock()
	if err != nil {
		if errors.Is(err, session.ErrValidation) {
			return WrapExitError(ExitFailure, "query failed", err)
		}
		return WrapExitError(ExitCommandError, "query failed", err)
	}
	if reply.Immediate {
		return nil
	}

	key := reply.Pending
	select {
	case <-rt.manager.Closed(key):
		return nil
	case <-sink.full:
		return rt.manager.Unsubscribe(key)
	case <-ctx.Done():
		logger.Debug("interrupted, unsubscribing", "key", key)
		return rt.manager.Unsubscribe(key)
	}
}
