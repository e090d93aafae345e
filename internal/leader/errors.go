package leader

import (
	"errors"
	"fmt"
)

// GateErrorCode categorizes leader-gate errors. None of them are fatal to
// the process; they only gate side effects.
type GateErrorCode string

const (
	// ErrCodeNotLeader: the replica is a follower; the effect was refused.
	ErrCodeNotLeader GateErrorCode = "NOT_LEADER"

	// ErrCodeCoolingDown: holdership was recently lost; effects stay
	// suppressed for one lease duration.
	ErrCodeCoolingDown GateErrorCode = "COOLING_DOWN"

	// ErrCodeLost: a post-action check found a different holder; the
	// completed effect may overlap the successor's epoch.
	ErrCodeLost GateErrorCode = "LEADERSHIP_LOST"

	// ErrCodeLease: the coordination store could not be consulted.
	ErrCodeLease GateErrorCode = "LEASE_ERROR"
)

// GateError is the structured leader-gate error.
type GateError struct {
	Code     GateErrorCode
	Identity string
	Message  string
}

// Error implements the error interface.
func (e *GateError) Error() string {
	return fmt.Sprintf("%s: %s (replica=%s)", e.Code, e.Message, e.Identity)
}

// NewGateError creates a GateError.
func NewGateError(code GateErrorCode, identity, format string, args ...any) *GateError {
	return &GateError{Code: code, Identity: identity, Message: fmt.Sprintf(format, args...)}
}

// IsNotLeader reports whether err refused an effect for lack of
// holdership (follower or cooling down). Uses errors.As to handle wrapped
// errors.
func IsNotLeader(err error) bool {
	var ge *GateError
	if errors.As(err, &ge) {
		return ge.Code == ErrCodeNotLeader || ge.Code == ErrCodeCoolingDown
	}
	return false
}

// IsLost reports whether err signals a post-action holdership loss.
func IsLost(err error) bool {
	var ge *GateError
	return errors.As(err, &ge) && ge.Code == ErrCodeLost
}
