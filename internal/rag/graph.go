package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/langgraphgo/graph"
	"github.com/tmc/langchaingo/llms"

	"github.com/drblury/ragstream/internal/runtime/config"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
)

// PipelineError is returned by Query for any failure inside the graph.
type PipelineError struct {
	// Node is empty when the failure happened outside a node.
	Node string
	Err  error
}

func (e *PipelineError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("rag pipeline: %v", e.Err)
	}
	return fmt.Sprintf("rag pipeline: node %s: %v", e.Node, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Pipeline is a compiled RAG graph. It is safe for concurrent use as long as
// the model is.
type Pipeline struct {
	runnable *graph.StateRunnable[State]
	logger   loggingpkg.ServiceLogger
}

// PipelineOption customises NewPipeline.
type PipelineOption func(*pipelineOptions)

type pipelineOptions struct {
	prompts *PromptManager
	logger  loggingpkg.ServiceLogger
}

// WithPrompts replaces the built-in prompt templates.
func WithPrompts(prompts *PromptManager) PipelineOption {
	return func(o *pipelineOptions) {
		if prompts != nil {
			o.prompts = prompts
		}
	}
}

func WithLogger(logger loggingpkg.ServiceLogger) PipelineOption {
	return func(o *pipelineOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// NewPipeline compiles the graph for model.
func NewPipeline(model llms.Model, cfg config.RAG, opts ...PipelineOption) (*Pipeline, error) {
	if model == nil {
		return nil, errors.New("rag: model is required")
	}
	o := pipelineOptions{
		prompts: NewPromptManager(nil),
		logger:  loggingpkg.NewNopServiceLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := &nodes{model: model, prompts: o.prompts, cfg: cfg, logger: o.logger}

	g := graph.NewStateGraph[State]()
	g.AddNode(NodeIntent, "classify the user intent", n.intent)
	g.AddNode(NodeRetriever, "rewrite the query and fetch documents", n.retriever)
	g.AddNode(NodeReranker, "keep the best documents", n.reranker)
	g.AddNode(NodeLLM, "answer from the documents", n.llm)

	g.SetEntryPoint(NodeIntent)
	g.AddEdge(NodeIntent, NodeRetriever)
	g.AddConditionalEdge(NodeRetriever, docsCounter)
	g.AddEdge(NodeReranker, NodeLLM)
	if cfg.UseAnswerChecker {
		g.AddNode(NodeAnswerChecker, "reject irrelevant answers", n.answerChecker)
		g.AddEdge(NodeLLM, NodeAnswerChecker)
		g.AddEdge(NodeAnswerChecker, graph.END)
	} else {
		g.AddEdge(NodeLLM, graph.END)
	}

	runnable, err := g.Compile()
	if err != nil {
		return nil, fmt.Errorf("rag: compile graph: %w", err)
	}
	return &Pipeline{runnable: runnable, logger: o.logger}, nil
}

// docsCounter ends the run when nothing was retrieved.
func docsCounter(_ context.Context, state State) string {
	if len(state.Retrieved) == 0 {
		return graph.END
	}
	return NodeReranker
}

// Query runs the graph for one question and returns the final state.
func (p *Pipeline) Query(ctx context.Context, question string) (State, error) {
	start := time.Now()
	state, err := p.runnable.Invoke(ctx, NewState(question))
	if err != nil {
		pipelineErr := &PipelineError{Err: err}
		var nodeErr *NodeError
		if errors.As(err, &nodeErr) {
			pipelineErr.Node = nodeErr.Node
			pipelineErr.Err = nodeErr.Err
		}
		return State{}, pipelineErr
	}
	p.logger.Debug("RAG query finished", loggingpkg.LogFields{
		"documents": len(state.Retrieved),
		"checked":   state.Checked,
		"duration":  time.Since(start).String(),
	})
	return state, nil
}
