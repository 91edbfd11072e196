package errors

import (
	sterrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrServiceRequired", ErrServiceRequired, "ragstream: service is required"},
		{"ErrHandlerRequired", ErrHandlerRequired, "ragstream: handler function is required"},
		{"ErrConsumeTopicRequired", ErrConsumeTopicRequired, "ragstream: consume topic is required"},
		{"ErrPublishTopicRequired", ErrPublishTopicRequired, "ragstream: publish topic is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "ragstream: publisher is required"},
		{"ErrConfigRequired", ErrConfigRequired, "ragstream: configuration is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Reason: "invalid headers", Missing: []string{"requestId"}}
	assert.Equal(t, "invalid headers, missing: [requestId]", err.Error())

	plain := &ValidationError{Reason: "headers are missing"}
	assert.Equal(t, "headers are missing", plain.Error())
}

func TestTypedErrorsUnwrap(t *testing.T) {
	inner := sterrors.New("broker down")

	var pubErr *PublishError
	wrapped := error(&PublishError{Topic: "out", Err: inner})
	require.True(t, sterrors.As(wrapped, &pubErr))
	assert.ErrorIs(t, wrapped, inner)
	assert.Contains(t, wrapped.Error(), `"out"`)

	valueErr := NewValueError("field %s is empty", "test_questions")
	assert.Equal(t, "field test_questions is empty", valueErr.Error())

	cfgErr := ConfigValidationError{Err: inner}
	assert.ErrorIs(t, cfgErr, inner)
	assert.Equal(t, "ragstream: invalid configuration: broker down", cfgErr.Error())
}
