package errors

import (
	sterrors "errors"
	"fmt"
	"strings"
)

var (
	ErrServiceRequired      = sterrors.New("ragstream: service is required")
	ErrHandlerRequired      = sterrors.New("ragstream: handler function is required")
	ErrConsumeTopicRequired = sterrors.New("ragstream: consume topic is required")
	ErrPublishTopicRequired = sterrors.New("ragstream: publish topic is required")
	ErrHandlerNameRequired  = sterrors.New("ragstream: handler name is required")
	ErrPublisherRequired    = sterrors.New("ragstream: publisher is required")
	ErrConfigRequired       = sterrors.New("ragstream: configuration is required")
	ErrLoggerRequired       = sterrors.New("ragstream: logger is required")
	ErrPayloadRequired      = sterrors.New("ragstream: payload is required")
	ErrPayloadTypeRequired  = sterrors.New("ragstream: handler payload type is required")
	ErrPayloadPointerNeeded = sterrors.New("ragstream: handler payload type must be a pointer")
)

// EmptyBodyText is the user-facing text published when an inbound message has no body.
const EmptyBodyText = "message has empty body"

// ValidationError reports an inbound message that failed schema or header validation.
type ValidationError struct {
	Reason  string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return e.Reason
	}
	return fmt.Sprintf("%s, missing: [%s]", e.Reason, strings.Join(e.Missing, ", "))
}

// EmptyBodyError is returned when an inbound message carries no payload.
type EmptyBodyError struct{}

func (*EmptyBodyError) Error() string { return "empty body" }

// ValueError wraps a handler-level value problem, for example a payload that does
// not decode into the expected type.
type ValueError struct {
	Err error
}

func (e *ValueError) Error() string { return e.Err.Error() }

func (e *ValueError) Unwrap() error { return e.Err }

// NewValueError formats a ValueError.
func NewValueError(format string, args ...any) *ValueError {
	return &ValueError{Err: fmt.Errorf(format, args...)}
}

// PublishError wraps a failed publish to a topic.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ConfigValidationError marks configuration problems detected at startup.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return "ragstream: invalid configuration: " + e.Err.Error()
}

func (e ConfigValidationError) Unwrap() error { return e.Err }
