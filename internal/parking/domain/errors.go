package parking

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRegistration is wrapped by registration validation failures.
	ErrInvalidRegistration = errors.New("parking: invalid registration")
	// ErrUnknownSlot is wrapped when allocating a slot the feed does not know.
	ErrUnknownSlot = errors.New("parking: unknown slot")
	// ErrUnknownGate is wrapped when allocating a gate the feed does not know.
	ErrUnknownGate = errors.New("parking: unknown gate")
)

// ValidationError reports rejected allocation input. Nothing is written when
// it is returned.
type ValidationError struct {
	Field  string
	Value  string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Reason
}
