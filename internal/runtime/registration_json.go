package runtime

import (
	"fmt"

	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	handlerpkg "github.com/drblury/ragstream/internal/runtime/handlers"
)

// RegisterJSONHandler decodes each inbound payload into T and registers the
// handler behind the pipeline. The returned *O is published as the result;
// failures are published as error envelopes to the same topic, so a JSON
// handler cannot be registered without one.
func RegisterJSONHandler[T any, O any](svc *Service, cfg handlerpkg.JSONHandlerRegistration[T, O]) error {
	if svc == nil {
		return errspkg.ErrServiceRequired
	}
	if cfg.PublishTopic == "" {
		return fmt.Errorf("%w: handler %q has nowhere to send results or error envelopes", errspkg.ErrPublishTopicRequired, cfg.Name)
	}

	wrapped, err := handlerpkg.BuildJSONHandler(cfg.Handler, svc.Logger)
	if err != nil {
		return fmt.Errorf("handler %q: %w", cfg.Name, err)
	}

	return svc.registerHandler(handlerRegistration{
		Name:         cfg.Name,
		ConsumeTopic: cfg.ConsumeTopic,
		PublishTopic: cfg.PublishTopic,
		Handler:      wrapped,
	})
}
