package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/drblury/ragstream/internal/runtime/config"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	"github.com/drblury/ragstream/internal/token"
)

const completionPath = "/foundationModels/v1/completion"

// YandexClient calls the foundation-model completion API directly.
type YandexClient struct {
	*client
}

// NewYandexClient posts to <APIURL>/foundationModels/v1/completion with the
// model addressed as gpt://<folder>/<model>.
func NewYandexClient(opts Options) *YandexClient {
	endpoint := strings.TrimRight(opts.APIURL, "/") + completionPath
	modelURI := fmt.Sprintf("gpt://%s/%s", opts.FolderID, opts.Model)
	return &YandexClient{client: newClient("yandex", endpoint, modelURI, opts)}
}

// GatewayClient calls the same API through an API gateway. The gateway URL is
// the full completion endpoint.
type GatewayClient struct {
	*client
}

func NewGatewayClient(opts Options) *GatewayClient {
	modelURI := fmt.Sprintf("gpt://%s/%s", opts.FolderID, opts.Model)
	return &GatewayClient{client: newClient("gateway", opts.APIURL, modelURI, opts)}
}

var (
	_ llms.Model = (*YandexClient)(nil)
	_ llms.Model = (*GatewayClient)(nil)
	_ llms.Model = (*MockModel)(nil)
)

// MockAnswer is what MockModel answers when no responder is set.
const MockAnswer = "Сегодня среда, 17 декабря 2025 года.(тест_мок_ответ)"

// MockModel answers without any network call. It is safe for concurrent use.
type MockModel struct {
	// Respond builds the answer from the last message text. Nil returns
	// MockAnswer.
	Respond func(prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func NewMockModel() *MockModel {
	return &MockModel{}
}

func (m *MockModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var prompt string
	if n := len(messages); n > 0 {
		prompt = toCompletionMessages(messages[n-1:])[0].Text
	}

	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	answer := MockAnswer
	if m.Respond != nil {
		var err error
		if answer, err = m.Respond(prompt); err != nil {
			return nil, err
		}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: answer}}}, nil
}

func (m *MockModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Prompts returns every prompt received so far.
func (m *MockModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// New builds the model selected by cfg.LLM.Mode.
func New(cfg *config.Config, logger loggingpkg.ServiceLogger) (llms.Model, error) {
	opts := Options{
		APIURL:      cfg.LLM.APIURL,
		FolderID:    cfg.LLM.FolderID,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxRetries:  cfg.LLM.MaxRetries,
		RPS:         cfg.LLM.RPS,
		Logger:      logger,
	}

	switch strings.ToLower(cfg.LLM.Mode) {
	case "", "mock":
		return NewMockModel(), nil
	case "yandex":
		opts.Tokens = token.NewRNDManager(cfg.RNDToken, token.WithLogger(logger))
		return NewYandexClient(opts), nil
	case "gateway":
		opts.Tokens = token.NewEPAManager(cfg.EPAToken, token.WithLogger(logger))
		return NewGatewayClient(opts), nil
	default:
		return nil, fmt.Errorf("llm: unsupported mode %q", cfg.LLM.Mode)
	}
}
