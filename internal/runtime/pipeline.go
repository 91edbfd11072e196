package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/drblury/ragstream/internal/runtime/envelope"
	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	"github.com/drblury/ragstream/internal/runtime/headers"
	"github.com/drblury/ragstream/internal/runtime/ids"
	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	"github.com/drblury/ragstream/internal/runtime/metadata"
	"github.com/drblury/ragstream/internal/runtime/metrics"
	"github.com/drblury/ragstream/internal/runtime/reqctx"
)

// Outcome is the terminal state of one message after the handler ran.
type Outcome int

const (
	OutcomeUnexpected Outcome = iota
	OutcomePublished
	OutcomeEmptyResult
	OutcomePublishFailed
	OutcomeProcessingFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeEmptyResult:
		return "empty_result"
	case OutcomePublishFailed:
		return "publish_failed"
	case OutcomeProcessingFailed:
		return "processing_failed"
	default:
		return "unexpected"
	}
}

var errHandlerPanicked = errors.New("handler panicked")

// Pipeline wraps a handler in the fixed per-message stage chain:
//
//	worker limit -> exception -> recover -> context -> metrics -> auto-publish -> handler
//
// The exception stage is the only place errors stop. Every message leaves the
// chain acknowledged and with exactly one envelope published, unless the
// publish itself failed.
type Pipeline struct {
	Name         string
	PublishTopic string
	Publisher    message.Publisher
	Metrics      *metrics.Collector
	Logger       loggingpkg.ServiceLogger
	// Limiter bounds concurrent handler executions. Nil means unbounded.
	Limiter *semaphore.Weighted
	Now     func() time.Time
}

// Chain applies stages to h with the first stage outermost.
func Chain(h message.HandlerFunc, stages ...message.HandlerMiddleware) message.HandlerFunc {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i] == nil {
			continue
		}
		h = stages[i](h)
	}
	return h
}

// Wrap returns h wrapped in every stage of the pipeline.
func (p *Pipeline) Wrap(h message.HandlerFunc) message.HandlerFunc {
	return Chain(h,
		p.WorkerLimitStage(),
		p.ExceptionStage(),
		RecoverStage(),
		p.ContextStage(),
		p.MetricsStage(),
		p.AutoPublishStage(),
	)
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) logger() loggingpkg.ServiceLogger {
	if p.Logger == nil {
		return loggingpkg.NewNopServiceLogger()
	}
	return p.Logger
}

// WorkerLimitStage blocks until a worker slot is free. A message whose context
// is cancelled while waiting is returned unprocessed so the subscriber can
// redeliver it.
func (p *Pipeline) WorkerLimitStage() message.HandlerMiddleware {
	if p.Limiter == nil {
		return nil
	}
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if err := p.Limiter.Acquire(msg.Context(), 1); err != nil {
				return nil, fmt.Errorf("acquire worker: %w", err)
			}
			defer p.Limiter.Release(1)
			return h(msg)
		}
	}
}

// RecoverStage turns a handler panic into an error for the exception stage.
func RecoverStage() message.HandlerMiddleware {
	return middleware.Recoverer
}

// scopeOf returns the scope attached to msg, attaching a fresh one if needed.
func scopeOf(msg *message.Message) *reqctx.Scope {
	if scope, ok := reqctx.FromContext(msg.Context()); ok {
		return scope
	}
	ctx, scope := reqctx.NewContext(msg.Context())
	msg.SetContext(ctx)
	return scope
}

// ContextStage validates the inbound message and seeds its scope. It must run
// before any stage that reads the scope.
func (p *Pipeline) ContextStage() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			scope := scopeOf(msg)
			received := p.now()

			// Set before any rejection: error envelopes reuse the inbound key.
			md := metadata.FromWatermill(msg.Metadata)
			key, _ := md.Key()
			scope.SetKey(key)

			if len(msg.Payload) == 0 {
				return nil, &errspkg.EmptyBodyError{}
			}

			inbound := md.Headers()
			if len(inbound) == 0 {
				return nil, &errspkg.ValidationError{
					Reason:  "headers are missing",
					Missing: append([]string(nil), headers.RequiredFields...),
				}
			}

			normalized, failure := headers.Validate(headers.FromStrings(inbound), true)
			if failure != nil {
				reason := "invalid headers"
				if failure.Field != "" {
					reason = fmt.Sprintf("invalid headers: %s (field %s)", failure.Reason, failure.Field)
				}
				return nil, &errspkg.ValidationError{Reason: reason, Missing: failure.Missing}
			}

			scope.Seed(normalized[headers.RequestID], normalized, key, received)
			return h(msg)
		}
	}
}

// MetricsStage records the inbound and processing families around the rest
// of the chain.
func (p *Pipeline) MetricsStage() message.HandlerMiddleware {
	collector := p.Metrics
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			collector.MessageReceived(p.Name, len(msg.Payload))
			collector.InProcessInc(p.Name)
			start := time.Now()

			finished := false
			defer func() {
				if !finished {
					collector.Processed(p.Name, metrics.StatusError)
					collector.ProcessingException(p.Name, errHandlerPanicked)
				}
				collector.InProcessDec(p.Name)
				collector.ProcessingDuration(p.Name, time.Since(start))
			}()

			results, err := h(msg)
			finished = true
			if err != nil {
				collector.Processed(p.Name, metrics.StatusError)
				collector.ProcessingException(p.Name, err)
				return nil, err
			}
			collector.Processed(p.Name, metrics.StatusSuccess)
			return results, nil
		}
	}
}

// AutoPublishStage publishes every message the handler returned to the
// pipeline's topic, keyed like the inbound message. Publish failures are
// logged and dropped. On any outcome other than a handler failure the scope
// is reset here.
func (p *Pipeline) AutoPublishStage() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			scope := scopeOf(msg)
			start := p.now()
			outcome := OutcomeUnexpected
			var cause error

			defer func() {
				done := outcome == OutcomePublished || outcome == OutcomeEmptyResult || outcome == OutcomePublishFailed
				if done {
					scope.MarkStage(reqctx.OutSent, p.now())
				}
				p.logOutcome(msg, scope, outcome, cause, p.now().Sub(start))
				if done {
					scope.Reset()
				}
			}()

			results, err := h(msg)
			if err != nil {
				outcome = OutcomeProcessingFailed
				cause = err
				return nil, err
			}
			if len(results) == 0 {
				outcome = OutcomeEmptyResult
				return nil, nil
			}

			scope.MarkStage(reqctx.InTransformed, p.now())
			outbound := metadata.New(headers.RequestID, scope.RequestID()).WithKey(scope.Key())
			outcome = OutcomePublished
			for _, result := range results {
				result.Metadata = metadata.ToWatermill(outbound)
				if err := p.Publisher.Publish(p.PublishTopic, result); err != nil {
					outcome = OutcomePublishFailed
					cause = &errspkg.PublishError{Topic: p.PublishTopic, Err: err}
				}
			}
			return nil, nil
		}
	}
}

func (p *Pipeline) logOutcome(msg *message.Message, scope *reqctx.Scope, outcome Outcome, cause error, elapsed time.Duration) {
	pos := metadata.PositionOf(msg)
	fields := loggingpkg.LogFields{
		"handler":    p.Name,
		"request_id": scope.RequestID(),
		"topic":      pos.Topic,
		"partition":  pos.Partition,
		"offset":     pos.Offset,
		"elapsed_ms": elapsed.Milliseconds(),
		"outcome":    outcome.String(),
	}
	log := p.logger()

	switch outcome {
	case OutcomePublished:
		log.Info("Message processed, result published", withField(fields, "publish_topic", p.PublishTopic))
	case OutcomeEmptyResult:
		log.Info("Message processed, nothing to publish", fields)
	case OutcomePublishFailed:
		log.Error("Message processed, publishing the result failed", cause, withField(fields, "publish_topic", p.PublishTopic))
	case OutcomeProcessingFailed:
		// ExceptionStage reports the error.
		log.Debug("Message processing failed", withField(fields, "error", cause.Error()))
	case OutcomeUnexpected:
		log.Error("Message left the handler in an unexpected state", errHandlerPanicked, fields)
	}
}

// ExceptionStage is the outermost error boundary. Any error from the inner
// stages becomes one error envelope on the publish topic, and the message is
// acknowledged. The scope is always reset on the way out.
func (p *Pipeline) ExceptionStage() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			scope := scopeOf(msg)

			_, err := h(msg)
			if err == nil {
				return nil, nil
			}
			defer scope.Reset()

			status, code, text := Classify(err)
			requestID := envelope.UnknownRequestID
			if scope.Seeded() {
				requestID = scope.RequestID()
			}

			pos := metadata.PositionOf(msg)
			p.logger().Error("Message rejected", err, loggingpkg.LogFields{
				"handler":    p.Name,
				"request_id": requestID,
				"code_error": int(code),
				"topic":      pos.Topic,
				"partition":  pos.Partition,
				"offset":     pos.Offset,
			})

			env := envelope.Error(status, code, text)
			if pubErr := p.publishEnvelope(env, requestID, scope.Key()); pubErr != nil {
				p.logger().Error("Failed to publish error envelope", pubErr, loggingpkg.LogFields{
					"handler":       p.Name,
					"request_id":    requestID,
					"publish_topic": p.PublishTopic,
				})
			}
			return nil, nil
		}
	}
}

// Classify maps an error to the envelope fields describing it. The first
// matching category wins; uncategorised errors carry no message.
func Classify(err error) (envelope.StatusCode, envelope.CodeError, *string) {
	var (
		validation *errspkg.ValidationError
		failure    *headers.ValidationFailure
		emptyBody  *errspkg.EmptyBodyError
		valueErr   *errspkg.ValueError
	)
	switch {
	case errors.As(err, &validation), errors.As(err, &failure):
		text := err.Error()
		return envelope.StatusProcessingError, envelope.CodeMessageValidation, &text
	case errors.As(err, &emptyBody):
		text := errspkg.EmptyBodyText
		return envelope.StatusProcessingError, envelope.CodeMessageValidation, &text
	case errors.As(err, &valueErr):
		text := err.Error()
		return envelope.StatusProcessingError, envelope.CodeMessageValidation, &text
	default:
		return envelope.StatusProcessingError, envelope.CodeUnexpectedError, nil
	}
}

func (p *Pipeline) publishEnvelope(env envelope.Envelope, requestID string, key []byte) error {
	body, err := jsoncodec.Marshal(env)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ids.CreateULID(), body)
	msg.Metadata = metadata.ToWatermill(metadata.New(headers.RequestID, requestID).WithKey(key))
	return p.Publisher.Publish(p.PublishTopic, msg)
}

func withField(fields loggingpkg.LogFields, key string, value any) loggingpkg.LogFields {
	out := make(loggingpkg.LogFields, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}
