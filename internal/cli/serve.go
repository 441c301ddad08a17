package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/liveq/internal/transport"
)

// ShutdownTimeout bounds graceful shutdown after a signal.
const ShutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string
	Codec    string

	// ready, if set, is called with the bound address once the listener is
	// open.
	ready func(addr string)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve query documents over WebSocket",
		Long: `Open the database, create the catalog tables and accept WebSocket clients
on /ws. Flags override the config file.

SIGINT or SIGTERM closes every connection and session before exiting.

Examples:
  liveq serve
  liveq serve --config ./liveq.yaml --listen 0.0.0.0:7420
  liveq serve --db /tmp/test.db --codec cbor --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "listen address (host:port)")
	cmd.Flags().StringVar(&opts.Codec, "codec", "", "wire codec (json|cbor)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}
	if opts.Codec != "" {
		cfg.Codec = opts.Codec
	}
	codec, err := transport.CodecFor(cfg.Codec)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid codec", err)
	}

	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	slog.SetDefault(logger)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening database", "path", cfg.Database, "tables", len(cfg.Tables))
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := transport.NewServer(rt.manager,
		transport.WithCodec(codec),
		transport.WithLogger(logger),
		transport.WithChangeSource(rt.store),
	)

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		_ = rt.close(context.Background())
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("server listening", "addr", ln.Addr().String(), "codec", codec.Name())
	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s\n", ln.Addr())
	if opts.ready != nil {
		opts.ready(ln.Addr().String())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by http.Server.
		err := httpSrv.Shutdown(shutdownCtx)
		err = errors.Join(err, srv.Close(shutdownCtx))
		err = errors.Join(err, rt.close(shutdownCtx))
		return err
	})

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	logger.Info("server stopped")
	return nil
}
