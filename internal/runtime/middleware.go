package runtime

import (
	"errors"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/drblury/ragstream/internal/runtime/headers"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	metadatapkg "github.com/drblury/ragstream/internal/runtime/metadata"
)

const tracerName = "ragstream-worker"

// MiddlewareBuilder constructs a handler middleware using the provided service instance.
type MiddlewareBuilder func(*Service) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be registered on a
// Service router. Router middlewares run outside the message pipeline.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the router middlewares used by the Service constructor.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		TracerMiddleware(),
		LogMessagesMiddleware(nil),
		RouterMetricsMiddleware(),
	}
}

// RouterMetricsMiddleware adds watermill's router metrics to the collector's
// registry. It is skipped when metrics are disabled.
func RouterMetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "router_metrics",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			registry := s.metrics.Registry()
			if registry == nil {
				return nil, nil
			}

			metricsBuilder := metrics.NewPrometheusMetricsBuilder(registry, "ragstream", s.Conf.PubSubSystem)
			metricsBuilder.AddPrometheusRouterMetrics(s.router)
			return metricsBuilder.NewRouterMiddleware().Middleware, nil
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at debug level.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(s *Service) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = s.Logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "tracer",
		Middleware: tracerMiddleware,
	}
}

// RegisterMiddleware attaches the supplied middleware to the router.
func (s *Service) RegisterMiddleware(cfg MiddlewareRegistration) error {
	if s.router == nil {
		return errors.New("router is not initialised")
	}

	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(s)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}

	s.router.AddMiddleware(mw)
	return nil
}

func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			pos := metadatapkg.PositionOf(msg)
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     metadatapkg.FromWatermill(msg.Metadata).Headers(),
				"topic":        pos.Topic,
				"partition":    pos.Partition,
				"offset":       pos.Offset,
			})
			return h(msg)
		}
	}
}

func tracerMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		ctx, span := otel.Tracer(tracerName).Start(msg.Context(), "ProcessMessage")
		defer span.End()
		msg.SetContext(ctx)

		pos := metadatapkg.PositionOf(msg)
		span.SetAttributes(
			attribute.String("message.uuid", msg.UUID),
			attribute.String("message.request_id", msg.Metadata.Get(headers.RequestID)),
			attribute.String("messaging.destination.name", pos.Topic),
			attribute.String("messaging.kafka.partition", pos.Partition),
			attribute.String("messaging.kafka.offset", pos.Offset),
		)

		msgs, err := h(msg)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return msgs, err
	}
}
