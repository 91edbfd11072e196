package jsoncodec

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type question struct {
	TestQuestions string  `json:"test_questions"`
	Note          *string `json:"note,omitempty"`
}

func TestMarshalOmitsNilFields(t *testing.T) {
	data, err := Marshal(question{TestQuestions: "ping"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"test_questions":"ping"}`, string(data))

	var out question
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, "ping", out.TestQuestions)
	assert.Nil(t, out.Note)
}

func TestEncodeDecodeStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, question{TestQuestions: "pong"}))

	var out question
	require.NoError(t, Decode(strings.NewReader(buf.String()), &out))
	assert.Equal(t, "pong", out.TestQuestions)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid([]byte(`{"a":1}`)))
	assert.False(t, Valid([]byte(`{"a":`)))
}
