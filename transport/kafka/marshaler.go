package kafka

import (
	"strconv"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/ragstream/internal/runtime/ids"
	"github.com/drblury/ragstream/internal/runtime/metadata"
)

// KeyedMarshaler maps watermill messages to Kafka records and back.
//
// Outbound, the reserved key metadata becomes the record key and every other
// non-reserved metadata entry becomes a record header. No message UUID header
// is written, so consumers see only application headers.
//
// Inbound, non-reserved record headers become metadata, the record key (when present) is
// kept under the reserved key entry, and the topic, partition and offset are
// recorded for logging.
type KeyedMarshaler struct{}

func (KeyedMarshaler) Marshal(topic string, msg *message.Message) (*sarama.ProducerMessage, error) {
	md := metadata.FromWatermill(msg.Metadata)

	headers := make([]sarama.RecordHeader, 0, len(md))
	for k, v := range md.Headers() {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	record := &sarama.ProducerMessage{
		Topic:   topic,
		Value:   sarama.ByteEncoder(msg.Payload),
		Headers: headers,
	}
	if key, ok := md.Key(); ok {
		record.Key = sarama.ByteEncoder(key)
	}
	return record, nil
}

func (KeyedMarshaler) Unmarshal(record *sarama.ConsumerMessage) (*message.Message, error) {
	msg := message.NewMessage(ids.CreateULID(), record.Value)

	for _, h := range record.Headers {
		if h == nil || len(h.Key) == 0 || metadata.IsReserved(string(h.Key)) {
			continue
		}
		msg.Metadata.Set(string(h.Key), string(h.Value))
	}

	if record.Key != nil {
		msg.Metadata.Set(metadata.KeyKafkaKey, string(record.Key))
	}
	msg.Metadata.Set(metadata.KeyKafkaTopic, record.Topic)
	msg.Metadata.Set(metadata.KeyKafkaPartition, strconv.FormatInt(int64(record.Partition), 10))
	msg.Metadata.Set(metadata.KeyKafkaOffset, strconv.FormatInt(record.Offset, 10))

	return msg, nil
}
