// Package bus is the named-channel publish/subscribe transport.
//
// Three implementations share one contract: Memory clients of an
// in-process Hub, a WebSocket client speaking SocketCluster-style frames,
// and Redis pub/sub. Publications from one goroutine to one channel are
// delivered in publish order; nothing is promised across channels.
package bus

import (
	"context"

	"github.com/roach88/gunrelay/internal/graph"
)

// Handler receives one message published on a subscribed channel.
// Handlers must not block; the relay's handlers only enqueue.
type Handler func(msg graph.Message)

// Bus is a named-channel publish/subscribe connection.
type Bus interface {
	// Publish sends msg on channel.
	Publish(ctx context.Context, channel string, msg graph.Message) error

	// Subscribe registers h on channel. The returned func removes the
	// registration and is safe to call more than once.
	Subscribe(channel string, h Handler, opts ...SubscribeOption) (func(), error)

	// Authenticate logs in. Subscriptions made with WaitForAuth activate
	// once it succeeds.
	Authenticate(ctx context.Context, creds Credentials) error

	Close() error
}

// Credentials identify the relay to the transport.
type Credentials struct {
	// Public is the public identity.
	Public string

	// Private is the private key material.
	Private string
}

// Empty reports whether either half is missing.
func (c Credentials) Empty() bool {
	return c.Public == "" || c.Private == ""
}

// String never prints the private half.
func (c Credentials) String() string {
	return c.Public
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	waitForAuth bool
}

// WaitForAuth defers delivery until the connection has authenticated.
func WaitForAuth() SubscribeOption {
	return func(c *subscribeConfig) {
		c.waitForAuth = true
	}
}

func newSubscribeConfig(opts []SubscribeOption) subscribeConfig {
	var c subscribeConfig
	for _, opt := range opts {
		opt(&c)
	}
	return c
}
