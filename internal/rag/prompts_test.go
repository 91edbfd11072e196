package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/prompts"
)

func TestPromptManagerDefaults(t *testing.T) {
	t.Parallel()

	m := NewPromptManager(nil)
	assert.Equal(t, []string{PromptAnswerChecker, PromptBaseLLM, PromptClassifier, PromptRetriever}, m.Names())

	text, err := m.Format(PromptBaseLLM, map[string]any{
		"message": "human-message: hi",
		"history": "",
		"context": noDocuments,
	})
	require.NoError(t, err)
	assert.Contains(t, text, "Вопрос: human-message: hi")
	assert.Contains(t, text, noDocuments)
}

func TestPromptManagerOverrides(t *testing.T) {
	t.Parallel()

	m := NewPromptManager(map[string]prompts.PromptTemplate{
		PromptClassifier: prompts.NewPromptTemplate("classify {{.message}}", []string{"message"}),
		"Extra":          prompts.NewPromptTemplate("extra", nil),
	})

	text, err := m.Format(PromptClassifier, map[string]any{"message": "x"})
	require.NoError(t, err)
	assert.Equal(t, "classify x", text)
	assert.Contains(t, m.Names(), "Extra")
}

func TestPromptManagerErrors(t *testing.T) {
	t.Parallel()

	m := NewPromptManager(map[string]prompts.PromptTemplate{"Empty": {}})

	_, err := m.Get("Missing")
	assert.ErrorContains(t, err, `prompt "Missing" not found`)

	_, err = m.Get("Empty")
	assert.ErrorContains(t, err, "is empty")

	_, err = m.Format(PromptRetriever, map[string]any{"message": "only"})
	assert.Error(t, err, "missing template variables must fail")
}
