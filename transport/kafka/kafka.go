// Package kafka provides the Kafka transport. Records keep their partition key
// across the pipeline and the consumer honours the configured offset reset,
// poll tuning and TLS files.
package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/ragstream/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register adds the Kafka transport to the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka publisher and consumer-group subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	settings := cfg.GetKafka()

	tlsConfig, err := LoadTLS(settings.TLS)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               settings.ProducerBrokers,
			Marshaler:             KeyedMarshaler{},
			OverwriteSaramaConfig: PublisherSaramaConfig(tlsConfig),
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("kafka publisher: %w", err)
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:               settings.ConsumerBrokers,
			Unmarshaler:           KeyedMarshaler{},
			ConsumerGroup:         settings.ConsumerGroup,
			OverwriteSaramaConfig: SubscriberSaramaConfig(settings, tlsConfig),
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, fmt.Errorf("kafka subscriber: %w", err)
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// PublisherSaramaConfig returns the sync producer config, with TLS when set.
func PublisherSaramaConfig(tlsConfig *tls.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSyncPublisherConfig()
	applyTLS(sc, tlsConfig)
	return sc
}

// SubscriberSaramaConfig maps the consumer settings onto sarama.
func SubscriberSaramaConfig(settings transport.KafkaSettings, tlsConfig *tls.Config) *sarama.Config {
	sc := kafka.DefaultSaramaSubscriberConfig()

	switch strings.ToLower(settings.InitialOffset) {
	case "latest":
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	if settings.MaxPollInterval > 0 {
		sc.Consumer.Group.Rebalance.Timeout = settings.MaxPollInterval
	}
	if settings.MaxPollRecords > 0 {
		sc.ChannelBufferSize = settings.MaxPollRecords
	}

	applyTLS(sc, tlsConfig)
	return sc
}

func applyTLS(sc *sarama.Config, tlsConfig *tls.Config) {
	if tlsConfig == nil {
		return
	}
	sc.Net.TLS.Enable = true
	sc.Net.TLS.Config = tlsConfig
}

// LoadTLS reads the CA bundle and client key pair. A nil files value yields a
// nil config. The key pair is optional so that server-only TLS works.
func LoadTLS(files *transport.TLSFiles) (*tls.Config, error) {
	if files == nil {
		return nil, nil
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if files.CAFile != "" {
		caPEM, err := os.ReadFile(files.CAFile)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: read ca file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("kafka tls: no certificates in %s", files.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	if files.CertFile != "" || files.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(files.CertFile, files.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("kafka tls: load key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
