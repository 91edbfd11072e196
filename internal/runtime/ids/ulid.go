// Package ids generates identifiers for messages and requests.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// CreateULID returns a time-sortable ULID used as the watermill message UUID.
func CreateULID() string {
	return createULIDAt(time.Now())
}

func createULIDAt(at time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(at), entropy).String()
}

// NewRequestID returns a random UUID for messages that enter the system without
// an upstream requestId, such as those enqueued by the HTTP API.
func NewRequestID() string {
	return uuid.NewString()
}
