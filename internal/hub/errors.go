package hub

import (
	"errors"

	"mcp-hub/internal/calls"
)

// ValidationError reports a malformed or incomplete client payload.
type ValidationError struct {
	Msg string
}

func (e ValidationError) Error() string { return e.Msg }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	What string
	ID   string
}

func (e NotFoundError) Error() string { return e.What + " not found" }

func validation(msg string) error { return ValidationError{Msg: msg} }

// errorKind classifies an error for metrics and for choosing the client message.
func errorKind(err error) string {
	var ve ValidationError
	var nf NotFoundError
	switch {
	case errors.As(err, &ve):
		return "validation"
	case errors.As(err, &nf):
		return "not_found"
	case errors.Is(err, calls.ErrStateConflict):
		return "conflict"
	default:
		return "internal"
	}
}

// clientMessage returns what the sender is told. Internal failures are
// replaced by fallback so storage details never reach the client.
func clientMessage(err error, fallback string) string {
	if errorKind(err) == "internal" {
		return fallback
	}
	return err.Error()
}
