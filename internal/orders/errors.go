package orders

import (
	"errors"
	"fmt"
)

var (
	ErrProductNotFound   = errors.New("product does not exist")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrOrderNotFound     = errors.New("order does not exist")

	// ErrIdempotencyKeyReused means the key is bound to a different request body.
	ErrIdempotencyKeyReused = errors.New("idempotency key already used for a different order")
	// ErrIdempotencyInProgress means another request holding the same key has
	// not finished yet.
	ErrIdempotencyInProgress = errors.New("idempotency key is in use by a request in flight")
)

// ValidationError reports a single invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}
