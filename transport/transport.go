// Package transport defines the publisher/subscriber pair the worker runs on
// and the registry that builds one from configuration. Each backend lives in
// its own sub-package and registers itself on import.
package transport

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder creates a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the values transports need without depending on the full
// config package.
type Config interface {
	// GetPubSubSystem returns the transport name ("kafka", "channel").
	GetPubSubSystem() string
	GetKafka() KafkaSettings
}

// KafkaSettings carries the consumer and producer side of a Kafka transport.
// Consumer and producer may point at different clusters.
type KafkaSettings struct {
	ConsumerBrokers []string
	ProducerBrokers []string
	ConsumerGroup   string
	// InitialOffset is "earliest" or "latest".
	InitialOffset   string
	MaxPollInterval time.Duration
	MaxPollRecords  int
	// TLS is nil when the connection is plaintext.
	TLS *TLSFiles
}

// TLSFiles points at PEM files used for mutual TLS with the brokers.
type TLSFiles struct {
	CAFile   string
	CertFile string
	KeyFile  string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
