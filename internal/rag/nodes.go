package rag

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/drblury/ragstream/internal/runtime/config"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
)

// Node names.
const (
	NodeIntent        = "Intent"
	NodeRetriever     = "Retriever"
	NodeReranker      = "Reranker"
	NodeLLM           = "llm"
	NodeAnswerChecker = "AnswerChecker"
)

// rejectedVerdict is what the answer checker returns for an irrelevant answer.
const rejectedVerdict = "0"

// dedupePrefix is how many runes of content identify a duplicate document.
const dedupePrefix = 200

// NodeError records which node failed.
type NodeError struct {
	Node string
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

type nodes struct {
	model   llms.Model
	prompts *PromptManager
	cfg     config.RAG
	logger  loggingpkg.ServiceLogger
}

func (n *nodes) fail(node string, err error) error {
	return &NodeError{Node: node, Err: err}
}

// generate renders the named prompt and sends it to the model.
func (n *nodes) generate(ctx context.Context, prompt string, values map[string]any) (string, error) {
	text, err := n.prompts.Format(prompt, values)
	if err != nil {
		return "", err
	}
	out, err := llms.GenerateFromSinglePrompt(ctx, n.model, text)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// dialog splits the conversation into the current message and the rendered
// history of up to cfg.N earlier messages.
func (n *nodes) dialog(state State) (message, history string) {
	if len(state.Messages) == 0 {
		return "", ""
	}
	last := len(state.Messages) - 1
	earlier := state.Messages[:last]
	if n.cfg.N > 0 && len(earlier) > n.cfg.N {
		earlier = earlier[len(earlier)-n.cfg.N:]
	}
	return formatMessage(state.Messages[last]), formatHistory(earlier)
}

func (n *nodes) intent(ctx context.Context, state State) (State, error) {
	message, history := n.dialog(state)
	out, err := n.generate(ctx, PromptClassifier, map[string]any{
		"message": message,
		"history": history,
	})
	if err != nil {
		return state, n.fail(NodeIntent, err)
	}
	state.Intent = append(slices.Clone(state.Intent), out)
	n.logger.Debug("Intent classified", loggingpkg.LogFields{"intent": out})
	return state, nil
}

func (n *nodes) retriever(ctx context.Context, state State) (State, error) {
	message, history := n.dialog(state)
	query, err := n.generate(ctx, PromptRetriever, map[string]any{
		"message": message,
		"history": history,
	})
	if err != nil {
		return state, n.fail(NodeRetriever, err)
	}

	state.Retrieved = dedupe(n.search(query))
	n.logger.Debug("Documents retrieved", loggingpkg.LogFields{
		"query":     query,
		"documents": len(state.Retrieved),
	})
	return state, nil
}

// search stands in for the knowledge base. It returns cfg.K documents with
// descending scores and drops those under the relevance threshold.
func (n *nodes) search(query string) []schema.Document {
	mode := "dense"
	if n.cfg.UseHybridSearch {
		mode = "hybrid"
	}
	docs := make([]schema.Document, 0, n.cfg.K)
	for i := range n.cfg.K {
		score := float32(1 - 0.05*float64(i))
		if float64(score) < n.cfg.RelevanceThreshold {
			break
		}
		docs = append(docs, schema.Document{
			PageContent: fmt.Sprintf("Какой-то текст с информацией_%d", i),
			Score:       score,
			Metadata: map[string]any{
				"id":     i,
				"query":  query,
				"search": mode,
				"AdditionalData": map[string]any{
					"parentName": fmt.Sprintf("parentName_%d", i),
				},
			},
		})
	}
	return docs
}

// dedupe keeps the first document for each content prefix.
func dedupe(docs []schema.Document) []schema.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]schema.Document, 0, len(docs))
	for _, doc := range docs {
		key := doc.PageContent
		if r := []rune(key); len(r) > dedupePrefix {
			key = string(r[:dedupePrefix])
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, doc)
	}
	return out
}

func (n *nodes) reranker(_ context.Context, state State) (State, error) {
	docs := slices.Clone(state.Retrieved)
	slices.SortStableFunc(docs, func(a, b schema.Document) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return 0
		}
	})
	if n.cfg.NBest > 0 && len(docs) > n.cfg.NBest {
		docs = docs[:n.cfg.NBest]
	}
	state.Retrieved = docs
	return state, nil
}

func (n *nodes) llm(ctx context.Context, state State) (State, error) {
	message, history := n.dialog(state)
	answer, err := n.generate(ctx, PromptBaseLLM, map[string]any{
		"message": message,
		"history": history,
		"context": formatContext(state.Retrieved),
	})
	if err != nil {
		return state, n.fail(NodeLLM, err)
	}
	state = state.withMessage(llms.TextParts(llms.ChatMessageTypeAI, answer))
	state.Answer = answer
	return state, nil
}

func (n *nodes) answerChecker(ctx context.Context, state State) (State, error) {
	verdict, err := n.generate(ctx, PromptAnswerChecker, map[string]any{
		"message": state.Question,
		"context": formatContext(state.Retrieved),
		"answer":  state.Answer,
	})
	if err != nil {
		return state, n.fail(NodeAnswerChecker, err)
	}
	state.Checked = true
	if verdict == rejectedVerdict {
		n.logger.Info("Answer rejected by checker", loggingpkg.LogFields{"question": state.Question})
		state.Answer = ""
		return state, nil
	}
	state = state.withMessage(llms.TextParts(llms.ChatMessageTypeAI, verdict))
	state.Answer = verdict
	return state, nil
}
