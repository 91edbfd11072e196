package envelope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
)

func TestSuccessOmitsErrorInfo(t *testing.T) {
	data, err := jsoncodec.Marshal(Success("pong"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"pong","statusCode":100}`, string(data))
}

func TestErrorEnvelope(t *testing.T) {
	text := "message has empty body"

	data, err := jsoncodec.Marshal(Error(StatusProcessingError, CodeMessageValidation, &text))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"message": "ошибка",
		"statusCode": 400,
		"errorInfo": [{"codeError": 2, "trace": "Ошибка валидации входящего сообщения", "message": "message has empty body"}]
	}`, string(data))

	data, err = jsoncodec.Marshal(Error(StatusProcessingError, CodeUnexpectedError, nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"message": "ошибка",
		"statusCode": 400,
		"errorInfo": [{"codeError": 1, "trace": "Непредвиденная ошибка"}]
	}`, string(data))
}

func TestTopicDestination(t *testing.T) {
	d := Topic("answers")
	assert.Equal(t, KindTopic, d.Kind)
	assert.Equal(t, "answers", d.String())
}
