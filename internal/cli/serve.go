package cli

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tether/internal/config"
	"github.com/roach88/tether/internal/server"
	"github.com/roach88/tether/internal/telemetry"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Config   string
	Addr     string
	Lifetime time.Duration

	// Ready, when set, receives the bound address (for testing).
	Ready func(net.Addr)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference server",
		Long: `Run the reference server with the click-counter demo application.

Every client that bootstraps gets a label and a button; clicking the button
updates the label. Clients that stay silent longer than the lifetime are
dropped by the watchdog.

Example:
  tether serve
  tether serve --addr 127.0.0.1:9000 --lifetime 30s
  tether serve --config ./tether.cue --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to CUE configuration file")
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().DurationVar(&opts.Lifetime, "lifetime", 0, "client lifetime without requests (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Addr != "" {
		cfg.Server.Addr = opts.Addr
	}
	if opts.Lifetime < 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid lifetime %s", opts.Lifetime))
	}
	if opts.Lifetime > 0 {
		cfg.Server.Lifetime = opts.Lifetime
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

	srv := server.New(server.NewCounter(),
		server.WithLogger(logger),
		server.WithClientLifetime(cfg.Server.Lifetime))

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

	ready := func(addr net.Addr) {
		fmt.Fprintf(cmd.OutOrStdout(), "Server listening on %s\n", addr)
		fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")
		if opts.Ready != nil {
			opts.Ready(addr)
		}
	}

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, ready); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
