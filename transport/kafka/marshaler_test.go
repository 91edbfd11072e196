package kafka

import (
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ragstream/internal/runtime/metadata"
)

func headerMap(headers []sarama.RecordHeader) map[string]string {
	out := make(map[string]string, len(headers))
	for _, h := range headers {
		out[string(h.Key)] = string(h.Value)
	}
	return out
}

func TestKeyedMarshaler_Marshal(t *testing.T) {
	t.Run("key and application headers", func(t *testing.T) {
		msg := message.NewMessage("uuid-1", []byte(`{"message":"pong","statusCode":100}`))
		msg.Metadata.Set("requestId", "42")
		msg.Metadata.Set(metadata.KeyKafkaKey, "k1")
		msg.Metadata.Set(metadata.KeyKafkaOffset, "7")

		record, err := KeyedMarshaler{}.Marshal("answers", msg)
		require.NoError(t, err)

		assert.Equal(t, "answers", record.Topic)
		assert.Equal(t, sarama.ByteEncoder("k1"), record.Key)
		assert.Equal(t, sarama.ByteEncoder(msg.Payload), record.Value)
		assert.Equal(t, map[string]string{"requestId": "42"}, headerMap(record.Headers))
	})

	t.Run("unkeyed message", func(t *testing.T) {
		msg := message.NewMessage("uuid-2", []byte(`{}`))
		msg.Metadata.Set("requestId", "unknown")

		record, err := KeyedMarshaler{}.Marshal("answers", msg)
		require.NoError(t, err)
		assert.Nil(t, record.Key)
	})
}

func TestKeyedMarshaler_Unmarshal(t *testing.T) {
	record := &sarama.ConsumerMessage{
		Topic:     "questions",
		Partition: 3,
		Offset:    99,
		Key:       []byte("k1"),
		Value:     []byte(`{"test_questions":"ping"}`),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("requestId"), Value: []byte("42")},
			nil,
			{Key: nil, Value: []byte("ignored")},
		},
	}

	msg, err := KeyedMarshaler{}.Unmarshal(record)
	require.NoError(t, err)

	assert.NotEmpty(t, msg.UUID)
	assert.Equal(t, record.Value, []byte(msg.Payload))
	assert.Equal(t, "42", msg.Metadata.Get("requestId"))

	md := metadata.FromWatermill(msg.Metadata)
	key, ok := md.Key()
	require.True(t, ok)
	assert.Equal(t, []byte("k1"), key)
	assert.Equal(t, metadata.Metadata{"requestId": "42"}, md.Headers())
	assert.Equal(t, metadata.Position{Topic: "questions", Partition: "3", Offset: "99"}, metadata.PositionOf(msg))
}

func TestKeyedMarshaler_UnmarshalWithoutKey(t *testing.T) {
	msg, err := KeyedMarshaler{}.Unmarshal(&sarama.ConsumerMessage{Topic: "questions", Value: []byte("x")})
	require.NoError(t, err)

	_, ok := metadata.FromWatermill(msg.Metadata).Key()
	assert.False(t, ok)
}

func TestKeyedMarshaler_RoundTripKeepsKey(t *testing.T) {
	out := message.NewMessage("uuid", []byte("body"))
	out.Metadata = metadata.ToWatermill(metadata.New("requestId", "42").WithKey([]byte{0x00, 0xff}))

	produced, err := KeyedMarshaler{}.Marshal("t", out)
	require.NoError(t, err)
	key, err := produced.Key.Encode()
	require.NoError(t, err)

	headers := make([]*sarama.RecordHeader, 0, len(produced.Headers))
	for i := range produced.Headers {
		headers = append(headers, &produced.Headers[i])
	}
	in, err := KeyedMarshaler{}.Unmarshal(&sarama.ConsumerMessage{Topic: "t", Key: key, Value: []byte("body"), Headers: headers})
	require.NoError(t, err)

	got, ok := metadata.FromWatermill(in.Metadata).Key()
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0xff}, got)
	assert.Equal(t, "42", in.Metadata.Get("requestId"))
}

func TestKeyedMarshaler_UnmarshalIgnoresReservedHeaders(t *testing.T) {
	msg, err := KeyedMarshaler{}.Unmarshal(&sarama.ConsumerMessage{
		Topic:     "questions",
		Partition: 1,
		Offset:    5,
		Value:     []byte("x"),
		Headers: []*sarama.RecordHeader{
			{Key: []byte("requestId"), Value: []byte("42")},
			{Key: []byte(metadata.KeyKafkaKey), Value: []byte("spoofed")},
			{Key: []byte(metadata.KeyKafkaOffset), Value: []byte("1000")},
		},
	})
	require.NoError(t, err)

	md := metadata.FromWatermill(msg.Metadata)
	_, ok := md.Key()
	assert.False(t, ok, "an unkeyed record stays unkeyed")
	assert.Equal(t, "5", msg.Metadata.Get(metadata.KeyKafkaOffset))
	assert.Equal(t, metadata.Metadata{"requestId": "42"}, md.Headers())
}
