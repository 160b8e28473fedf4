package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gunrelay/internal/bus"
	"github.com/roach88/gunrelay/internal/config"
	"github.com/roach88/gunrelay/internal/crdt"
	"github.com/roach88/gunrelay/internal/store"
	"github.com/roach88/gunrelay/internal/validate"
)

const (
	// connectTimeout bounds how long one-shot commands wait for the broker.
	connectTimeout = 5 * time.Second

	// readLockTimeout bounds how long one-shot commands wait for a bolt
	// file held by a running relay.
	readLockTimeout = time.Second
)

// storeFlags override the store section of the config.
type storeFlags struct {
	backend string
	path    string
}

func (f *storeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.backend, "backend", "", "store backend (sqlite|bolt)")
	cmd.Flags().StringVar(&f.path, "db", "", "path to the store file")
}

func (f *storeFlags) apply(cfg *config.Config) {
	if f.backend != "" {
		cfg.Store.Backend = f.backend
	}
	if f.path != "" {
		cfg.Store.Path = f.path
	}
}

// transportFlags override the transport section of the config.
type transportFlags struct {
	kind string
	url  string
}

func (f *transportFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "transport", "", "channel transport (websocket|redis|memory)")
	cmd.Flags().StringVar(&f.url, "url", "", "broker URL (websocket or redis)")
}

func (f *transportFlags) apply(cfg *config.Config) {
	if f.kind != "" {
		cfg.Transport.Kind = f.kind
	}
	if f.url == "" {
		return
	}
	if cfg.Transport.Kind == config.TransportRedis {
		cfg.Transport.RedisURL = f.url
	} else {
		cfg.Transport.URL = f.url
	}
}

// openGateway opens the configured backend and wraps it in a Gateway.
// The caller closes the returned backend. readOnly opens a bolt file
// with a shared lock so one-shot commands can run side by side; they
// still cannot open it while serve holds it.
func openGateway(cfg config.Config, logger *slog.Logger, readOnly bool) (*store.Gateway, store.Backend, error) {
	if dir := filepath.Dir(cfg.Store.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	var (
		backend store.Backend
		err     error
	)
	switch cfg.Store.Backend {
	case config.BackendBolt:
		var opts []store.BoltOption
		if readOnly {
			opts = append(opts, store.BoltReadOnly(), store.BoltLockTimeout(readLockTimeout))
		}
		backend, err = store.OpenBolt(cfg.Store.Path, cfg.Store.MapSize, opts...)
	default:
		backend, err = store.Open(cfg.Store.Path, cfg.Store.MapSize)
	}
	if err != nil {
		return nil, nil, err
	}

	var merger crdt.Merger = crdt.Overwrite{}
	if cfg.Relay.EnforceCRDT {
		merger = crdt.HAM{}
	}
	gw := store.NewGateway(backend,
		store.WithMerger(merger),
		store.WithStateClock(crdt.NewStateClock().Now),
		store.WithLogger(logger),
	)
	return gw, backend, nil
}

// newValidator returns the configured validity oracle.
func newValidator(cfg config.Config) (validate.Validator, error) {
	switch {
	case cfg.Relay.Policy == config.PolicyNone:
		return validate.AcceptAll{}, nil
	case cfg.Relay.PolicyFile != "":
		return validate.LoadCUEPolicy(cfg.Relay.PolicyFile)
	default:
		return validate.NewCUEPolicy(nil)
	}
}

// dialBus connects the configured transport. A memory transport gets a
// private hub, which is only useful for local runs and tests.
func dialBus(ctx context.Context, cfg config.Config, logger *slog.Logger) (bus.Bus, error) {
	switch cfg.Transport.Kind {
	case config.TransportRedis:
		return bus.DialRedis(ctx, cfg.Transport.RedisURL, logger)
	case config.TransportMemory:
		return bus.NewHub(bus.WithHubLogger(logger)).Connect(), nil
	default:
		opts := bus.DefaultWebSocketOptions(cfg.Transport.Host, cfg.Transport.Port)
		if cfg.Transport.URL != "" {
			opts.URL = cfg.Transport.URL
		}
		opts.InitialDelay = cfg.Transport.InitialDelay
		opts.MaxDelay = cfg.Transport.MaxDelay
		opts.Logger = logger
		return bus.DialWebSocket(ctx, opts), nil
	}
}

// waitConnected blocks until transports that connect in the background
// are up.
func waitConnected(ctx context.Context, b bus.Bus) error {
	c, ok := b.(interface{ WaitConnected(context.Context) error })
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	return c.WaitConnected(ctx)
}

func credentials(cfg config.Config) bus.Credentials {
	return bus.Credentials{Public: cfg.Transport.Public, Private: cfg.Transport.Private}
}

// openStoreError explains a store that could not be opened.
func openStoreError(err error) error {
	if errors.Is(err, store.ErrLocked) {
		return WrapExitError(ExitCommandError, "store is in use by another process (stop the relay first)", err)
	}
	return WrapExitError(ExitCommandError, "failed to open store", err)
}
