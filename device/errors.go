package device

import (
	"errors"
	"fmt"
)

// Sentinel errors for the device layer.
var (
	// Registry errors.
	ErrUnknownBaseType = errors.New("device: unknown base type")
	ErrUnknownVariant  = errors.New("device: unknown variant")

	// Instance errors.
	ErrInvalidInstanceName = errors.New("device: invalid instance name")
	ErrInstanceNotOpen     = errors.New("device: instance not open")
	ErrInstanceClosed      = errors.New("device: instance closed")

	// Parameter errors.
	ErrMissingParameter = errors.New("device: missing required parameter")
	ErrInvalidParameter = errors.New("device: invalid parameter value")

	// ErrDataUnavailable marks a poll cycle that produced no readings,
	// such as an unreachable scrape endpoint or a record that failed
	// validation. Errors wrapping it are forwarded to the consumer
	// without closing the instance; polling continues on the next tick.
	ErrDataUnavailable = errors.New("device: data unavailable")
)

// BackendError is an error reported by a remote measurement backend in
// response to a command. Code is zero for backends whose protocol carries
// no numeric error code.
type BackendError struct {
	Code int
	Text string
}

func (e *BackendError) Error() string {
	if e.Code == 0 {
		return e.Text
	}
	return fmt.Sprintf("Error %d: %s", e.Code, e.Text)
}
