package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies watermill metadata into a Metadata map.
func FromWatermill(md message.Metadata) Metadata {
	if len(md) == 0 {
		return Metadata{}
	}

	result := make(Metadata, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill copies metadata into a watermill map.
func ToWatermill(metadata Metadata) message.Metadata {
	if len(metadata) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(metadata))
	for k, v := range metadata {
		wm[k] = v
	}
	return wm
}

// Position describes where a consumed message sat in the log. Fields are empty
// for transports without partitions.
type Position struct {
	Topic     string
	Partition string
	Offset    string
}

// PositionOf reads the Kafka position recorded by the transport.
func PositionOf(msg *message.Message) Position {
	return Position{
		Topic:     msg.Metadata.Get(KeyKafkaTopic),
		Partition: msg.Metadata.Get(KeyKafkaPartition),
		Offset:    msg.Metadata.Get(KeyKafkaOffset),
	}
}
