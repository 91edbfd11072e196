package handlers

import (
	"context"
	"reflect"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	"github.com/drblury/ragstream/internal/runtime/ids"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
	"github.com/drblury/ragstream/internal/runtime/logging"
	"github.com/drblury/ragstream/internal/runtime/metadata"
	"github.com/drblury/ragstream/internal/runtime/reqctx"
)

// JSONHandlerRegistration wires a typed JSON handler to the router.
type JSONHandlerRegistration[In any, Out any] struct {
	Name         string
	ConsumeTopic string
	PublishTopic string
	Handler      JSONMessageHandler[In, Out]
}

// JSONMessageContext exposes the decoded payload next to the message context.
type JSONMessageContext[In any] struct {
	MessageContextBase
	Payload In
}

// JSONMessageHandler processes one decoded payload. In must be a pointer type.
// A nil result means there is nothing to publish.
type JSONMessageHandler[In any, Out any] func(ctx context.Context, event JSONMessageContext[In]) (*Out, error)

// BuildJSONHandler converts a typed JSON handler into a watermill handler. A
// payload that does not decode into In fails with a *errors.ValueError. The
// result is encoded as JSON and returned as the single produced message.
func BuildJSONHandler[In any, Out any](handler JSONMessageHandler[In, Out], logger logging.ServiceLogger) (message.HandlerFunc, error) {
	if handler == nil {
		return nil, errspkg.ErrHandlerRequired
	}
	if logger == nil {
		logger = logging.NewNopServiceLogger()
	}

	newPayload, err := payloadFactory[In]()
	if err != nil {
		return nil, err
	}

	return func(msg *message.Message) ([]*message.Message, error) {
		payload := newPayload()
		if err := jsoncodec.Unmarshal(msg.Payload, payload); err != nil {
			return nil, errspkg.NewValueError("invalid payload: %v", err)
		}

		ctx := msg.Context()
		requestID := reqctx.RequestID(ctx)
		event := JSONMessageContext[In]{
			MessageContextBase: MessageContextBase{
				Headers:   metadata.FromWatermill(msg.Metadata).Headers(),
				RequestID: requestID,
				Logger:    logger.With(logging.LogFields{"request_id": requestID}),
			},
			Payload: payload,
		}

		out, err := handler(ctx, event)
		if err != nil {
			return nil, err
		}
		if out == nil {
			return nil, nil
		}

		body, err := jsoncodec.Marshal(out)
		if err != nil {
			return nil, err
		}
		result := message.NewMessage(ids.CreateULID(), body)
		result.SetContext(ctx)
		return []*message.Message{result}, nil
	}, nil
}

func payloadFactory[In any]() (func() In, error) {
	var zero In
	typ := reflect.TypeOf(zero)
	if typ == nil {
		return nil, errspkg.ErrPayloadTypeRequired
	}
	if typ.Kind() != reflect.Pointer {
		return nil, errspkg.ErrPayloadPointerNeeded
	}
	elem := typ.Elem()
	return func() In {
		return reflect.New(elem).Interface().(In)
	}, nil
}
