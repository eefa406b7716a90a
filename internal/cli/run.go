package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/server"
	"github.com/roach88/tether/internal/session"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/telemetry"
	"github.com/roach88/tether/internal/transport"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Config   string
	Database string
	Loopback bool

	// TokenGenerator allows overriding the journal run token generator (for
	// testing). If nil, defaults to UUIDv7Generator.
	TokenGenerator store.TokenGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [endpoint]",
		Short: "Start a headless client session",
		Long: `Start a client session against a tether server.

The session binds an identity, then synchronizes periodically, applying the
server's instructions to a headless presentation tree. The tree is printed
when the session stops. With --db every exchange is recorded in a SQLite
journal that "tether trace" can read back.

The endpoint argument overrides the configured endpoint. With --loopback
the session talks to an in-process reference server instead.

Example:
  tether run http://localhost:8080/sync
  tether run --config ./tether.cue --db ./tether.db
  tether run --loopback --verbose`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			endpoint := ""
			if len(args) == 1 {
				endpoint = args[0]
			}
			return runSession(opts, endpoint, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to CUE configuration file")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (overrides config)")
	cmd.Flags().BoolVar(&opts.Loopback, "loopback", false, "run against an in-process reference server")

	return cmd
}

func runSession(opts *RunOptions, endpoint string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if endpoint != "" {
		cfg.Endpoint = endpoint
	}
	if cfg.Endpoint == "" && !opts.Loopback {
		return NewExitError(ExitCommandError, "no endpoint: pass one as argument, set endpoint in config, or use --loopback")
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg, opts.Verbose)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("error flushing telemetry", "error", err)
		}
	}()

	sessionOpts := []session.Option{
		session.WithLogger(logger),
		session.WithPeriod(cfg.Period),
		session.WithBackoff(cfg.Backoff),
		session.WithTimeout(cfg.Timeout),
		session.WithDebounce(cfg.Debounce),
	}

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = cfg.Journal
	}
	if dbPath != "" {
		logger.Info("opening journal", "path", dbPath)
		st, err := store.Open(dbPath)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()

		gen := opts.TokenGenerator
		if gen == nil {
			gen = store.UUIDv7Generator{}
		}
		journal, err := store.NewJournal(ctx, st, gen.Generate())
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		logger.Info("journal ready", "run", journal.RunToken())
		sessionOpts = append(sessionOpts, session.WithJournal(journal))
	}

	var tr transport.Transport
	if opts.Loopback {
		srv := server.New(server.NewCounter(),
			server.WithLogger(logger.With("component", "server")),
			server.WithClientLifetime(cfg.Server.Lifetime))
		go func() { _ = srv.Run(ctx) }()
		tr = srv
		cfg.Endpoint = "loopback"
	} else {
		tr = transport.NewHTTP(cfg.Endpoint, transport.WithLogger(logger))
	}

	ctl := session.New(tr, sessionOpts...)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("session starting", "endpoint", cfg.Endpoint)
	fmt.Fprintf(cmd.OutOrStdout(), "Session started against %s.\n", cfg.Endpoint)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	err = ctl.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "session error", err)
	}

	// Give the terminate request a chance to leave before the process exits.
	waitCtx, waitCancel := context.WithTimeout(context.Background(), session.DefaultTerminateTimeout)
	if err := ctl.AwaitTerminate(waitCtx); err != nil {
		logger.Warn("terminate request still in flight", "error", err)
	}
	waitCancel()

	if r, ok := ctl.Backend().(interface{ Render(io.Writer) error }); ok {
		fmt.Fprintln(cmd.OutOrStdout())
		if err := r.Render(cmd.OutOrStdout()); err != nil {
			logger.Warn("render failed", "error", err)
		}
	}

	logger.Info("session stopped")
	return nil
}

// newLogger builds the text logger used by run and serve. --verbose forces
// debug level.
func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	level := cfg.Level()
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
