package store

import "errors"

var (
	// ErrClosed is returned by operations on a closed backend.
	ErrClosed = errors.New("gunrelay: store is closed")

	// ErrLocked is returned when another process holds the store file.
	ErrLocked = errors.New("gunrelay: store is locked by another process")
)
