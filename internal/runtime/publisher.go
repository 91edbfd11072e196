package runtime

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/ragstream/internal/runtime/envelope"
	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	idspkg "github.com/drblury/ragstream/internal/runtime/ids"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
	metadatapkg "github.com/drblury/ragstream/internal/runtime/metadata"
)

// Producer publishes JSON payloads outside of the consume pipeline, for
// example from HTTP handlers.
type Producer interface {
	Publish(ctx context.Context, dest envelope.Destination, payload any, headers map[string]string, key []byte) error
}

// NewJSONMessage encodes payload as JSON into a message carrying headers and,
// when key is non-nil, the Kafka key.
func NewJSONMessage(payload any, headers map[string]string, key []byte) (*message.Message, error) {
	if payload == nil {
		return nil, errspkg.ErrPayloadRequired
	}

	body, err := jsoncodec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	md := metadatapkg.Metadata(headers).Clone().WithKey(key)
	msg := message.NewMessage(idspkg.CreateULID(), body)
	msg.Metadata = metadatapkg.ToWatermill(md)
	return msg, nil
}

// PublishJSON marshals payload and publishes it to dest.
func PublishJSON(ctx context.Context, publisher message.Publisher, dest envelope.Destination, payload any, headers map[string]string, key []byte) error {
	if publisher == nil {
		return errspkg.ErrPublisherRequired
	}
	if dest.Name == "" {
		return errspkg.ErrPublishTopicRequired
	}

	msg, err := NewJSONMessage(payload, headers, key)
	if err != nil {
		return err
	}
	if ctx != nil {
		msg.SetContext(ctx)
	}

	if err := publisher.Publish(dest.Name, msg); err != nil {
		return &errspkg.PublishError{Topic: dest.Name, Err: err}
	}
	return nil
}

// Publish emits payload through the service publisher, so it is counted in
// the published_* metric families.
func (s *Service) Publish(ctx context.Context, dest envelope.Destination, payload any, headers map[string]string, key []byte) error {
	if s == nil {
		return errspkg.ErrServiceRequired
	}
	return PublishJSON(ctx, s.publisher, dest, payload, headers, key)
}
