// Package services defines the business logic of the dispatch pipeline: bot
// registration, the producer that turns a request into a durable job, the
// consumer that delivers it, and the sweeper that reconciles orphaned
// records. This file centralizes service-level errors so that handlers can
// translate them into HTTP status codes.
package services

import (
	"errors"
	"fmt"

	"github.com/tbourn/bot-dispatch/internal/credential"
)

var (
	// ErrBotNotFound indicates the referenced bot does not exist.
	ErrBotNotFound = errors.New("bot not found")

	// ErrDeliveryNotFound indicates the referenced delivery record does not
	// exist.
	ErrDeliveryNotFound = errors.New("delivery not found")

	// ErrForbidden is returned when the caller neither owns the bot nor holds
	// an elevated role.
	ErrForbidden = errors.New("forbidden")

	// ErrEnqueueFailed is returned when the record was stored but the job
	// could not be queued. The record stays QUEUED until the sweeper picks it
	// up.
	ErrEnqueueFailed = errors.New("failed to enqueue message")
)

// ValidationError reports a missing or malformed request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason == "" {
		return e.Field + " is required"
	}
	return e.Field + " " + e.Reason
}

func required(field string) error { return &ValidationError{Field: field} }

// TargetResolutionError reports that a delivery target could not be found
// on the platform or cannot receive text.
type TargetResolutionError struct {
	Target string
	Reason string
	Err    error
}

func (e *TargetResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *TargetResolutionError) Unwrap() error { return e.Err }

// Kind groups errors by how the HTTP layer should report them.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindForbidden
	KindNotFound
	KindConfiguration
)

// ErrorKind classifies err for callers that map errors to responses.
func ErrorKind(err error) Kind {
	var ve *ValidationError
	switch {
	case err == nil:
		return KindInternal
	case errors.As(err, &ve):
		return KindValidation
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrBotNotFound), errors.Is(err, ErrDeliveryNotFound):
		return KindNotFound
	case credential.IsConfigurationError(err):
		return KindConfiguration
	}
	return KindInternal
}
