package store

import (
	"context"

	"github.com/roach88/gunrelay/internal/graph"
)

// Reader is the read side of a backend transaction.
type Reader interface {
	// Get returns the node stored under soul, or nil if absent.
	Get(soul string) (*graph.Node, error)

	// Seek visits every stored soul that starts with prefix, in ascending
	// byte order. Iteration stops at the first error fn returns.
	Seek(prefix string, fn func(soul string) error) error
}

// Writer is the read-write side of a backend transaction.
type Writer interface {
	Reader

	// Put stores node under node.Soul, replacing any previous version.
	Put(node *graph.Node) error
}

// Backend is a transactional key-value engine keyed by soul.
type Backend interface {
	// View runs fn inside a read-only transaction. The transaction is
	// released when fn returns, whether or not it failed.
	View(ctx context.Context, fn func(Reader) error) error

	// Update runs fn inside a read-write transaction. The transaction
	// commits only if fn returns nil.
	Update(ctx context.Context, fn func(Writer) error) error

	Close() error
}
