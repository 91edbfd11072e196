// Package rag answers questions with a retrieval-augmented generation graph:
//
//	Intent -> Retriever -> (no documents: END) -> Reranker -> llm -> [AnswerChecker] -> END
//
// Retrieval is mocked. The LLM is any llms.Model.
package rag

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// NoAnswer is returned when the graph produced no answer.
const NoAnswer = "Нет ответа"

// State flows through the graph. Every node returns an updated copy.
type State struct {
	Question  string
	Messages  []llms.MessageContent
	Intent    []string
	Retrieved []schema.Document
	Answer    string
	// Checked is set once the answer checker ran.
	Checked bool
}

// NewState seeds a state with the question as the first human message.
func NewState(question string) State {
	return State{
		Question: question,
		Messages: []llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, question)},
	}
}

// withMessage appends msg on a fresh slice so earlier states stay intact.
func (s State) withMessage(msg llms.MessageContent) State {
	messages := make([]llms.MessageContent, 0, len(s.Messages)+1)
	messages = append(messages, s.Messages...)
	s.Messages = append(messages, msg)
	return s
}

// FinalAnswer returns the answer, or NoAnswer when the graph stopped early or
// the checker rejected it.
func (s State) FinalAnswer() string {
	if strings.TrimSpace(s.Answer) == "" {
		return NoAnswer
	}
	return s.Answer
}

func messageText(msg llms.MessageContent) string {
	var b strings.Builder
	for _, part := range msg.Parts {
		if tc, ok := part.(llms.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// formatMessage renders a message as "<role>-message: <text>".
func formatMessage(msg llms.MessageContent) string {
	return fmt.Sprintf("%s-message: %s", msg.Role, messageText(msg))
}

func formatHistory(messages []llms.MessageContent) string {
	lines := make([]string, len(messages))
	for i, msg := range messages {
		lines[i] = formatMessage(msg)
	}
	return strings.Join(lines, "\n")
}

const noDocuments = "Нет релевантных документов."

// formatContext renders retrieved documents for a prompt.
func formatContext(docs []schema.Document) string {
	if len(docs) == 0 {
		return noDocuments
	}
	parts := make([]string, len(docs))
	for i, doc := range docs {
		content := strings.ReplaceAll(doc.PageContent, "\n", " ")
		parts[i] = fmt.Sprintf("Документ %s: %s", parentName(doc), content)
	}
	return strings.Join(parts, "\n\n")
}

func parentName(doc schema.Document) string {
	if extra, ok := doc.Metadata["AdditionalData"].(map[string]any); ok {
		if name, ok := extra["parentName"].(string); ok && name != "" {
			return name
		}
	}
	return "Unknown"
}
