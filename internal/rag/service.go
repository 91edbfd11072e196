package rag

import (
	"context"
	"strings"

	"github.com/drblury/ragstream/internal/runtime/envelope"
	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	handlerpkg "github.com/drblury/ragstream/internal/runtime/handlers"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
)

// ConsumerMessage is the inbound Kafka payload.
type ConsumerMessage struct {
	TestQuestions string `json:"test_questions"`
}

// Querier answers a question. *Pipeline implements it.
type Querier interface {
	Query(ctx context.Context, question string) (State, error)
}

// Service turns inbound messages into answer envelopes.
type Service struct {
	pipeline Querier
	logger   loggingpkg.ServiceLogger
}

func NewService(pipeline Querier, logger loggingpkg.ServiceLogger) *Service {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Service{pipeline: pipeline, logger: logger}
}

// HandleMessage answers msg.TestQuestions. A blank question is a validation
// error; graph failures come back as *PipelineError.
func (s *Service) HandleMessage(ctx context.Context, msg ConsumerMessage) (*envelope.Envelope, error) {
	question := strings.TrimSpace(msg.TestQuestions)
	if question == "" {
		return nil, errspkg.NewValueError("test_questions must not be empty")
	}

	state, err := s.pipeline.Query(ctx, question)
	if err != nil {
		return nil, err
	}

	answer := state.FinalAnswer()
	s.logger.Info("Question answered", loggingpkg.LogFields{
		"answered": answer != NoAnswer,
		"intent":   state.Intent,
	})
	out := envelope.Success(answer)
	return &out, nil
}

// Handler adapts HandleMessage to the JSON handler signature.
func (s *Service) Handler() handlerpkg.JSONMessageHandler[*ConsumerMessage, envelope.Envelope] {
	return func(ctx context.Context, event handlerpkg.JSONMessageContext[*ConsumerMessage]) (*envelope.Envelope, error) {
		return s.HandleMessage(ctx, *event.Payload)
	}
}
