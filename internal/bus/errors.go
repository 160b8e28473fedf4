package bus

import "errors"

var (
	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("gunrelay: bus closed")

	// ErrNotAuthenticated is returned when a login is refused.
	ErrNotAuthenticated = errors.New("gunrelay: not authenticated")

	// ErrNoCredentials is returned by Authenticate for empty credentials.
	ErrNoCredentials = errors.New("gunrelay: no credentials")

	// ErrDisconnected is returned when the transport has no live connection.
	ErrDisconnected = errors.New("gunrelay: transport disconnected")
)
