package graph

import "errors"

// ErrMalformed is returned when a message or node does not have the
// required shape. Callers log and drop malformed input.
var ErrMalformed = errors.New("gunrelay: malformed message")
