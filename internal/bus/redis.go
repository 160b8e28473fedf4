package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/gunrelay/internal/graph"
)

// Redis carries channels over Redis PUBLISH/SUBSCRIBE. Authentication is
// an ACL login: the public identity is the username and the private
// material the password. Once accepted, every pooled connection uses
// the same pair.
type Redis struct {
	client *redis.Client
	pubsub *redis.PubSub
	reg    *registry
	logger *slog.Logger

	mu    sync.Mutex
	creds Credentials

	closed atomic.Bool
	done   chan struct{}
}

var _ Bus = (*Redis)(nil)

// DialRedis connects to the server at url (redis://host:port/db) and
// starts the receive loop.
func DialRedis(ctx context.Context, url string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Redis{
		reg:    newRegistry(),
		logger: logger.With("transport", "redis"),
		done:   make(chan struct{}),
	}
	if opts.Username == "" && opts.Password == "" {
		opts.CredentialsProvider = r.credentials
	}
	r.client = redis.NewClient(opts)

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	r.pubsub = r.client.Subscribe(ctx)
	go r.receive()
	return r, nil
}

func (r *Redis) credentials() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.creds.Public, r.creds.Private
}

func (r *Redis) receive() {
	defer close(r.done)
	for msg := range r.pubsub.Channel() {
		r.reg.deliver(r.logger, msg.Channel, []byte(msg.Payload))
	}
}

// Publish implements Bus.
func (r *Redis) Publish(ctx context.Context, channel string, msg graph.Message) error {
	if r.closed.Load() {
		return ErrClosed
	}
	payload, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus.
func (r *Redis) Subscribe(channel string, h Handler, opts ...SubscribeOption) (func(), error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	cfg := newSubscribeConfig(opts)
	s, activated := r.reg.add(channel, h, cfg.waitForAuth)
	if activated {
		if err := r.pubsub.Subscribe(context.Background(), channel); err != nil {
			r.reg.remove(s)
			return nil, fmt.Errorf("subscribe %s: %w", channel, err)
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if r.reg.remove(s) {
				if err := r.pubsub.Unsubscribe(context.Background(), channel); err != nil {
					r.logger.Warn("unsubscribe failed", "channel", channel, "error", err)
				}
			}
		})
	}, nil
}

// Authenticate implements Bus.
func (r *Redis) Authenticate(ctx context.Context, creds Credentials) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if creds.Empty() {
		return ErrNoCredentials
	}

	conn := r.client.Conn()
	defer conn.Close()
	if err := conn.AuthACL(ctx, creds.Public, creds.Private).Err(); err != nil {
		var rerr redis.Error
		if errors.As(err, &rerr) {
			return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
		}
		return fmt.Errorf("authenticate: %w", err)
	}

	r.mu.Lock()
	r.creds = creds
	r.mu.Unlock()

	if changed := r.reg.setAuthed(true); len(changed) > 0 {
		if err := r.pubsub.Subscribe(ctx, changed...); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	return nil
}

// Close unsubscribes everything and closes the client.
func (r *Redis) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	err := r.pubsub.Close()
	<-r.done
	return errors.Join(err, r.client.Close())
}
