package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/jsonapi-atomic/internal/app"
	"github.com/roach88/jsonapi-atomic/internal/config"
	"github.com/roach88/jsonapi-atomic/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	StoreFlags
	Addr string

	// ready, when set, receives the bound address once listening (for testing).
	ready chan<- string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve atomic operations over HTTP",
		Long: `Start the HTTP service.

The service loads the resource schema, opens the SQLite database (creating
it if it doesn't exist) and accepts atomic batches on POST {base}/operations.
GET /healthz reports readiness and GET /metrics exposes Prometheus metrics
when enabled.

Example:
  atomic serve --schema ./schema.cue --db ./atomic.db
  atomic serve --config ./atomic.yaml --addr :9090 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	opts.StoreFlags.register(cmd)
	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, opts.StoreFlags.apply, func(cfg *config.Config) {
		if opts.Addr != "" {
			cfg.Server.Addr = opts.Addr
		}
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	setupLogging(cmd.ErrOrStderr(), cfg, opts.Verbose)

	a, err := app.New(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start service", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("error closing store", "error", closeErr)
		}
	}()
	slog.Info("service ready",
		"schema", cfg.Schema,
		"db", cfg.Store.Path,
		"types", a.Schema.Types(),
		"return_policy", cfg.ReturnPolicy(),
	)

	srv, err := server.Listen(cfg.Server.Addr, a.Handler, cfg.Server.ReadTimeout, cfg.Server.ShutdownTimeout)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to listen", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Listening on %s%s/operations\n", srv.Addr(), cfg.Server.BasePath)
	if opts.ready != nil {
		opts.ready <- srv.Addr()
	}

	if err := srv.Serve(ctx); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}
	return nil
}
