package handlers

import (
	"github.com/drblury/ragstream/internal/runtime/logging"
	"github.com/drblury/ragstream/internal/runtime/metadata"
)

// MessageContextBase carries what every typed handler sees besides its payload.
type MessageContextBase struct {
	// Headers holds the validated application headers, without reserved
	// transport entries.
	Headers   metadata.Metadata
	RequestID string
	Logger    logging.ServiceLogger
}

// Get retrieves a header value by key.
func (b MessageContextBase) Get(key string) string {
	return b.Headers[key]
}

// CloneHeaders returns a copy handlers can mutate safely.
func (b MessageContextBase) CloneHeaders() metadata.Metadata {
	return b.Headers.Clone()
}
