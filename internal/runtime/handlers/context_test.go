package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/ragstream/internal/runtime/logging"
	"github.com/drblury/ragstream/internal/runtime/metadata"
)

func TestMessageContextBase(t *testing.T) {
	base := MessageContextBase{
		Headers:   metadata.Metadata{"requestId": "42", "source": "api"},
		RequestID: "42",
		Logger:    logging.NewNopServiceLogger(),
	}

	assert.Equal(t, "api", base.Get("source"))
	assert.Equal(t, "", base.Get("missing"))

	cloned := base.CloneHeaders()
	cloned["source"] = "modified"
	cloned["extra"] = "new"

	assert.Equal(t, "api", base.Headers["source"])
	assert.NotContains(t, base.Headers, "extra")
}
