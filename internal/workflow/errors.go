package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAuthorized is returned when a reviewer-only operation is invoked
	// by anyone but the configured reviewer. Nothing is changed.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrInvalidTransition is returned when an event does not apply to the
	// current request state. Nothing is changed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrNoActivePlanSelection is returned for a receipt that arrives without
	// a plan having been selected first.
	ErrNoActivePlanSelection = fmt.Errorf("%w: no active plan selection", ErrInvalidTransition)
)
