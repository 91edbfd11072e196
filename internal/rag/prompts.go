package rag

import (
	"fmt"
	"slices"

	"github.com/tmc/langchaingo/prompts"
)

// Prompt names.
const (
	PromptClassifier    = "Classifier"
	PromptRetriever     = "Retriever"
	PromptBaseLLM       = "BaseLLM"
	PromptAnswerChecker = "AnswerChecker"
)

var defaultPrompts = map[string]prompts.PromptTemplate{
	PromptClassifier: prompts.NewPromptTemplate(
		"Определи намерение пользователя одной короткой фразой.\n"+
			"История диалога:\n{{.history}}\n"+
			"Сообщение: {{.message}}",
		[]string{"message", "history"},
	),
	PromptRetriever: prompts.NewPromptTemplate(
		"Переформулируй запрос пользователя для поиска по базе знаний.\n"+
			"История диалога:\n{{.history}}\n"+
			"Запрос: {{.message}}",
		[]string{"message", "history"},
	),
	PromptBaseLLM: prompts.NewPromptTemplate(
		"Ответь на вопрос пользователя, опираясь только на контекст.\n"+
			"Контекст:\n{{.context}}\n"+
			"История диалога:\n{{.history}}\n"+
			"Вопрос: {{.message}}",
		[]string{"message", "history", "context"},
	),
	PromptAnswerChecker: prompts.NewPromptTemplate(
		"Проверь, отвечает ли ответ на вопрос с учётом контекста. "+
			"Если ответ нерелевантен, верни 0, иначе верни ответ без изменений.\n"+
			"Контекст:\n{{.context}}\n"+
			"Вопрос: {{.message}}\n"+
			"Ответ: {{.answer}}",
		[]string{"message", "context", "answer"},
	),
}

// PromptManager looks up prompt templates by name.
type PromptManager struct {
	templates map[string]prompts.PromptTemplate
}

// NewPromptManager returns a manager over the built-in templates, with
// overrides replacing templates of the same name.
func NewPromptManager(overrides map[string]prompts.PromptTemplate) *PromptManager {
	templates := make(map[string]prompts.PromptTemplate, len(defaultPrompts)+len(overrides))
	for name, tmpl := range defaultPrompts {
		templates[name] = tmpl
	}
	for name, tmpl := range overrides {
		templates[name] = tmpl
	}
	return &PromptManager{templates: templates}
}

func (m *PromptManager) Get(name string) (prompts.PromptTemplate, error) {
	tmpl, ok := m.templates[name]
	if !ok {
		return prompts.PromptTemplate{}, fmt.Errorf("prompt %q not found, available: %v", name, m.Names())
	}
	if tmpl.Template == "" {
		return prompts.PromptTemplate{}, fmt.Errorf("prompt %q is empty", name)
	}
	return tmpl, nil
}

// Format renders the named template with values.
func (m *PromptManager) Format(name string, values map[string]any) (string, error) {
	tmpl, err := m.Get(name)
	if err != nil {
		return "", err
	}
	return tmpl.Format(values)
}

func (m *PromptManager) Names() []string {
	names := make([]string, 0, len(m.templates))
	for name := range m.templates {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
