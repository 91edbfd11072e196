package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/ragstream/internal/llm"
	"github.com/drblury/ragstream/internal/runtime/envelope"
	errspkg "github.com/drblury/ragstream/internal/runtime/errors"
	handlerpkg "github.com/drblury/ragstream/internal/runtime/handlers"
)

type querierFunc func(ctx context.Context, question string) (State, error)

func (f querierFunc) Query(ctx context.Context, question string) (State, error) {
	return f(ctx, question)
}

func TestServiceHandleMessage(t *testing.T) {
	t.Parallel()

	p, err := NewPipeline(llm.NewMockModel(), testRAGConfig())
	require.NoError(t, err)
	svc := NewService(p, nil)

	out, err := svc.HandleMessage(context.Background(), ConsumerMessage{TestQuestions: "Какой сегодня день?"})
	require.NoError(t, err)
	assert.Equal(t, envelope.Success(llm.MockAnswer), *out)
	assert.Equal(t, envelope.StatusSuccess, out.StatusCode)
}

func TestServiceHandleMessageNoAnswer(t *testing.T) {
	t.Parallel()

	svc := NewService(querierFunc(func(ctx context.Context, question string) (State, error) {
		return NewState(question), nil
	}), nil)

	out, err := svc.HandleMessage(context.Background(), ConsumerMessage{TestQuestions: "q"})
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, out.Message)
}

func TestServiceRejectsBlankQuestion(t *testing.T) {
	t.Parallel()

	called := false
	svc := NewService(querierFunc(func(ctx context.Context, question string) (State, error) {
		called = true
		return State{}, nil
	}), nil)

	for _, question := range []string{"", "   \n\t"} {
		_, err := svc.HandleMessage(context.Background(), ConsumerMessage{TestQuestions: question})
		var valueErr *errspkg.ValueError
		require.ErrorAs(t, err, &valueErr)
	}
	assert.False(t, called)
}

func TestServicePropagatesPipelineErrors(t *testing.T) {
	t.Parallel()

	want := &PipelineError{Node: NodeLLM, Err: errors.New("boom")}
	svc := NewService(querierFunc(func(ctx context.Context, question string) (State, error) {
		return State{}, want
	}), nil)

	_, err := svc.HandleMessage(context.Background(), ConsumerMessage{TestQuestions: "q"})
	assert.ErrorIs(t, err, want)
}

func TestServiceHandlerAdapter(t *testing.T) {
	t.Parallel()

	var got string
	svc := NewService(querierFunc(func(ctx context.Context, question string) (State, error) {
		got = question
		return State{Answer: "answer"}, nil
	}), nil)

	out, err := svc.Handler()(context.Background(), handlerpkg.JSONMessageContext[*ConsumerMessage]{
		Payload: &ConsumerMessage{TestQuestions: " trimmed "},
	})
	require.NoError(t, err)
	assert.Equal(t, "trimmed", got)
	assert.Equal(t, "answer", out.Message)
}
