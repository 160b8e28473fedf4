package validate

import (
	"errors"
	"fmt"
)

// ErrRejected is the sentinel matched by every rejection.
var ErrRejected = errors.New("gunrelay: invalid graph data")

// RejectionError describes a write the oracle refused.
type RejectionError struct {
	// ID is the correlation id of the rejected write.
	ID string

	// Souls are the souls the write would have touched.
	Souls []string

	// Reason is the oracle's explanation, if it gave one.
	Reason string
}

// Error implements the error interface.
func (e *RejectionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%v (id=%s, souls=%d): %s", ErrRejected, e.ID, len(e.Souls), e.Reason)
	}
	return fmt.Sprintf("%v (id=%s, souls=%d)", ErrRejected, e.ID, len(e.Souls))
}

// Is makes errors.Is(err, ErrRejected) true.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// IsRejection returns true if err is a validation rejection.
// Uses errors.As to handle wrapped errors.
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

