package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gunrelay/internal/config"
	"github.com/roach88/gunrelay/internal/relay"
	"github.com/roach88/gunrelay/internal/validate"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	store       storeFlags
	transport   transportFlags
	MetricsAddr string
	EnforceCRDT bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the relay until interrupted",
		Long: `Run the synchronization relay.

The relay opens the store (creating it if needed), connects to the channel
transport, logs in with GUN_SC_PUB / GUN_SC_PRIV, and answers requests on
gun/get/validated and gun/put/validated until SIGINT or SIGTERM.

Example:
  gunrelay serve --db ./data/gun.db
  gunrelay serve --transport redis --url redis://localhost:6379/0 --metrics-addr :9100`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	opts.store.register(cmd)
	opts.transport.register(cmd)
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.EnforceCRDT, "enforce-crdt", false, "merge writes with HAM instead of overwriting")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := opts.loadConfig(func(c *config.Config) {
		opts.store.apply(c)
		opts.transport.apply(c)
		if opts.MetricsAddr != "" {
			c.Metrics.Addr = opts.MetricsAddr
		}
		if cmd.Flags().Changed("enforce-crdt") {
			c.Relay.EnforceCRDT = opts.EnforceCRDT
		}
	})
	if err != nil {
		return err
	}
	logger := opts.logger(cmd.ErrOrStderr(), cfg)

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("opening store", "backend", cfg.Store.Backend, "path", cfg.Store.Path)
	gw, backend, err := openGateway(cfg, logger, false)
	if err != nil {
		return openStoreError(err)
	}
	defer func() {
		if closeErr := backend.Close(); closeErr != nil {
			logger.Error("error closing store", "error", closeErr)
		}
	}()

	v, err := newValidator(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load policy", err)
	}
	gate := validate.NewGate(gw, v, logger)

	b, err := dialBus(ctx, cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect transport", err)
	}
	defer b.Close()

	metrics := relay.NewMetrics()
	r := relay.New(gate, b, relay.WithLogger(logger), relay.WithMetrics(metrics))
	if err := r.Listen(); err != nil {
		return WrapExitError(ExitCommandError, "failed to subscribe", err)
	}

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(metrics), ReadHeaderTimeout: 5 * time.Second}
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveMetrics(ctx, srv, logger)
		}()
	}

	session := relay.NewSession(b, credentials(cfg), cfg.Relay.ReauthInterval, logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		session.Run(ctx)
	}()

	logger.Info("relay starting", "transport", cfg.Transport.Kind, "enforce_crdt", cfg.Relay.EnforceCRDT)
	fmt.Fprintln(cmd.OutOrStdout(), "Relay started. Listening on gun/get/validated and gun/put/validated...")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "relay error", err)
	}

	logger.Info("relay stopped gracefully")
	return nil
}

func metricsMux(m *relay.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return mux
}

// serveMetrics runs srv until ctx is done.
func serveMetrics(ctx context.Context, srv *http.Server, logger *slog.Logger) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", "error", err)
	}
}
