package order

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Sentinel errors for order operations.
var (
	ErrNotFound     = errors.New("order not found")
	ErrAlreadyRated = errors.New("order already rated")
	ErrNotDelivered = errors.New("order is not delivered yet")
	ErrNoRider      = errors.New("order has no rider assigned")
)

// InvalidTransitionError indicates a status change that would regress or
// skip a step of the delivery progression.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// ValidationError indicates a request field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
