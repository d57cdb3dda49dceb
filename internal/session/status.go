package session

import (
	"context"
	"errors"

	"tokenTracer/internal/token"
	"tokenTracer/internal/tracer"
)

// Failure status codes reported to callers.
const (
	StatusInvalidAddress      = "invalid_address"
	StatusFetchFailed         = "fetch_failed"
	StatusMetadataUnavailable = "metadata_unavailable"
	StatusAlreadySubscribed   = "already_subscribed"
	StatusCanceled            = "canceled"
	StatusError               = "error"
)

// StatusOf maps an operation error to its status code.
func StatusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tracer.ErrInvalidAddress):
		return StatusInvalidAddress
	case errors.Is(err, tracer.ErrAlreadySubscribed):
		return StatusAlreadySubscribed
	case errors.Is(err, token.ErrMetadataUnavailable):
		return StatusMetadataUnavailable
	case errors.Is(err, tracer.ErrFetchFailed):
		return StatusFetchFailed
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return StatusCanceled
	default:
		return StatusError
	}
}
