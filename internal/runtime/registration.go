package runtime

import (
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
)

type handlerRegistration struct {
	Name         string
	ConsumeTopic string
	Subscriber   message.Subscriber
	PublishTopic string
	Handler      message.HandlerFunc
}

// MessageHandlerRegistration wires a raw Watermill handler. Messages the
// handler returns are published to PublishTopic by the pipeline; errors
// become error envelopes on the same topic.
type MessageHandlerRegistration struct {
	Name         string
	ConsumeTopic string
	PublishTopic string
	Handler      message.HandlerFunc
	// Subscriber overrides the service subscriber for this handler.
	Subscriber message.Subscriber
}

// RegisterMessageHandler attaches the provided handler to the service router.
func RegisterMessageHandler(svc *Service, cfg MessageHandlerRegistration) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeTopic: cfg.ConsumeTopic,
		PublishTopic: cfg.PublishTopic,
		Subscriber:   cfg.Subscriber,
		Handler:      cfg.Handler,
	})
}

func (s *Service) registerHandler(cfg handlerRegistration) error {
	if cfg.Handler == nil {
		return errspkg.ErrHandlerRequired
	}
	if cfg.Name == "" {
		return errspkg.ErrHandlerNameRequired
	}
	if cfg.ConsumeTopic == "" {
		return errspkg.ErrConsumeTopicRequired
	}
	if cfg.PublishTopic == "" {
		return errspkg.ErrPublishTopicRequired
	}
	if cfg.Subscriber == nil {
		cfg.Subscriber = s.subscriber
	}

	stats := newHandlerStats(cfg.Name, cfg.ConsumeTopic, cfg.PublishTopic)
	info := &HandlerInfo{
		Name:         cfg.Name,
		ConsumeTopic: cfg.ConsumeTopic,
		PublishTopic: cfg.PublishTopic,
		Stats:        stats,
	}

	s.handlersMu.Lock()
	s.handlers = append(s.handlers, info)
	s.handlersMu.Unlock()

	pipeline := s.newPipeline(cfg.Name, cfg.PublishTopic)
	handler := pipeline.Wrap(wrapHandlerWithStats(cfg.Handler, stats, s.getErrorClassifier()))

	s.router.AddNoPublisherHandler(
		cfg.Name,
		cfg.ConsumeTopic,
		cfg.Subscriber,
		message.NoPublishHandlerFunc(func(msg *message.Message) error {
			_, err := handler(msg)
			return err
		}),
	)

	s.Logger.Info("Handler registered", loggingpkg.LogFields{
		"handler":       cfg.Name,
		"consume_topic": cfg.ConsumeTopic,
		"publish_topic": cfg.PublishTopic,
	})
	return nil
}

func (s *Service) newPipeline(name, publishTopic string) *Pipeline {
	return &Pipeline{
		Name:         name,
		PublishTopic: publishTopic,
		Publisher:    s.publisher,
		Metrics:      s.metrics,
		Logger:       s.Logger.With(loggingpkg.LogFields{"handler": name}),
		Limiter:      s.limiter,
	}
}

// wrapHandlerWithStats records handler-level stats for /api/handlers. It sits
// innermost so validation failures rejected by the context stage are not
// counted as handled messages.
func wrapHandlerWithStats(handler message.HandlerFunc, stats *HandlerStats, classifier ErrorClassifier) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		stats.onMessageStart()
		start := time.Now()
		msgs, err := handler(msg)
		stats.onMessageFinish(time.Since(start), err, classifier)
		return msgs, err
	}
}
