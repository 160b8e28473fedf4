package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/gunrelay/internal/bus"
)

// DefaultReauthInterval is how often Session logs in again.
const DefaultReauthInterval = 30 * time.Minute

// Session keeps a bus connection authenticated: once at start, then on
// every tick. Failures are logged and retried on the next tick.
type Session struct {
	bus      bus.Bus
	creds    bus.Credentials
	interval time.Duration
	logger   *slog.Logger

	authenticated atomic.Bool
	attempts      atomic.Int64
}

// NewSession creates a session. A non-positive interval selects
// DefaultReauthInterval.
func NewSession(b bus.Bus, creds bus.Credentials, interval time.Duration, logger *slog.Logger) *Session {
	if interval <= 0 {
		interval = DefaultReauthInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{bus: b, creds: creds, interval: interval, logger: logger}
}

// Authenticate makes one login attempt.
func (s *Session) Authenticate(ctx context.Context) error {
	if s.creds.Empty() {
		s.logger.Warn("missing GUN_SC_PUB or GUN_SC_PRIV, running unauthenticated")
		return bus.ErrNoCredentials
	}

	s.attempts.Add(1)
	if err := s.bus.Authenticate(ctx, s.creds); err != nil {
		s.logger.Error("error logging in", "public", s.creds.Public, "error", err)
		return err
	}
	s.authenticated.Store(true)
	s.logger.Info("logged in", "public", s.creds.Public)
	return nil
}

// Run authenticates now and then every interval until ctx is done.
// Without credentials it returns at once; there is nothing to retry.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Authenticate(ctx); errors.Is(err, bus.ErrNoCredentials) {
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Authenticate(ctx)
		}
	}
}

// Authenticated reports whether any login has succeeded.
func (s *Session) Authenticated() bool {
	return s.authenticated.Load()
}

// Attempts counts login attempts made with credentials.
func (s *Session) Attempts() int64 {
	return s.attempts.Load()
}
