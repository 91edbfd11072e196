// Package llm holds the completion clients used by the RAG graph. Both
// clients speak the foundation-model completion protocol and implement
// llms.Model, so the graph does not know which backend it talks to.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/tmc/langchaingo/llms"
	"golang.org/x/time/rate"

	"github.com/drblury/ragstream/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/ragstream/internal/runtime/logging"
	"github.com/drblury/ragstream/internal/token"
)

const (
	DefaultTimeout         = 30 * time.Second
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 5 * time.Second
)

// ClientError is a non-200 answer from the completion endpoint.
type ClientError struct {
	StatusCode int
	Body       string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("llm: completion failed with status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether another attempt may succeed.
func (e *ClientError) Retryable() bool {
	return e.StatusCode == http.StatusUnauthorized ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

var errNoAlternatives = errors.New("llm: completion returned no alternatives")

// TokenSource supplies bearer tokens. *token.Manager implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Options tunes a client. Zero values fall back to sensible defaults.
type Options struct {
	APIURL      string
	FolderID    string
	Model       string
	Temperature float64
	MaxTokens   int
	// MaxRetries counts attempts after the first one.
	MaxRetries int
	// RPS caps outbound requests per second. Zero means unlimited.
	RPS float64

	Tokens     TokenSource
	HTTPClient *http.Client
	Logger     loggingpkg.ServiceLogger

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration
}

type completionMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type completionRequest struct {
	ModelURI          string              `json:"modelUri"`
	CompletionOptions completionOptions   `json:"completionOptions"`
	Messages          []completionMessage `json:"messages"`
}

type alternative struct {
	Message completionMessage `json:"message"`
	Status  string            `json:"status"`
}

type completionResult struct {
	Alternatives []alternative `json:"alternatives"`
	ModelVersion string        `json:"modelVersion"`
}

// completionResponse accepts both the wrapped {"result": {...}} answer of the
// public API and the bare result some gateways return.
type completionResponse struct {
	Result *completionResult `json:"result"`
	completionResult
}

// client is the transport shared by YandexClient and GatewayClient.
type client struct {
	name     string
	endpoint string
	folderID string
	modelURI string
	opts     Options

	httpc   *http.Client
	limiter *rate.Limiter
	logger  loggingpkg.ServiceLogger
}

func newClient(name, endpoint, modelURI string, opts Options) *client {
	c := &client{
		name:     name,
		endpoint: endpoint,
		folderID: opts.FolderID,
		modelURI: modelURI,
		opts:     opts,
		httpc:    opts.HTTPClient,
		logger:   opts.Logger,
	}
	if c.httpc == nil {
		c.httpc = &http.Client{Timeout: DefaultTimeout}
	}
	if c.logger == nil {
		c.logger = loggingpkg.NewNopServiceLogger()
	}
	if opts.RPS > 0 {
		burst := int(opts.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	if c.opts.InitialInterval <= 0 {
		c.opts.InitialInterval = defaultInitialInterval
	}
	return c
}

// GenerateContent sends messages as one completion request and returns the
// first alternative.
func (c *client) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	callOpts := llms.CallOptions{
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}
	for _, opt := range options {
		opt(&callOpts)
	}

	req := completionRequest{
		ModelURI: c.modelURI,
		CompletionOptions: completionOptions{
			Temperature: callOpts.Temperature,
			MaxTokens:   callOpts.MaxTokens,
		},
		Messages: toCompletionMessages(messages),
	}
	payload, err := jsoncodec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("llm: encode request: %w", err)
	}

	text, err := c.completeWithRetry(ctx, payload)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text}},
	}, nil
}

func (c *client) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, c, prompt, options...)
}

func (c *client) completeWithRetry(ctx context.Context, payload []byte) (string, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.opts.InitialInterval
	policy.MaxInterval = defaultMaxInterval

	attempt := 0
	operation := func() (string, error) {
		attempt++
		return c.complete(ctx, payload)
	}

	text, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.opts.MaxRetries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Info("Retrying completion", loggingpkg.LogFields{
				"client":  c.name,
				"attempt": attempt,
				"delay":   next.String(),
				"error":   err.Error(),
			})
		}),
	)
	if err != nil {
		c.logger.Error("Completion failed", err, loggingpkg.LogFields{"client": c.name, "attempts": attempt})
		return "", err
	}
	return text, nil
}

// complete runs one attempt. Errors wrapped in backoff.Permanent stop the
// retry loop.
func (c *client) complete(ctx context.Context, payload []byte) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.folderID != "" {
		req.Header.Set("x-folder-id", c.folderID)
	}
	if c.opts.Tokens != nil {
		tok, err := c.opts.Tokens.Token(ctx)
		if err != nil {
			var fetchErr *token.TokenFetchError
			if errors.As(err, &fetchErr) {
				return "", err
			}
			return "", backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", backoff.Permanent(err)
		}
		return "", fmt.Errorf("llm: %s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		clientErr := &ClientError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		if resp.StatusCode == http.StatusUnauthorized && c.opts.Tokens != nil {
			c.opts.Tokens.Invalidate()
		}
		if !clientErr.Retryable() {
			return "", backoff.Permanent(clientErr)
		}
		return "", clientErr
	}

	var decoded completionResponse
	if err := jsoncodec.Unmarshal(body, &decoded); err != nil {
		return "", backoff.Permanent(fmt.Errorf("llm: decode response: %w", err))
	}
	result := decoded.completionResult
	if decoded.Result != nil {
		result = *decoded.Result
	}
	if len(result.Alternatives) == 0 {
		return "", backoff.Permanent(errNoAlternatives)
	}
	return result.Alternatives[0].Message.Text, nil
}

func toCompletionMessages(messages []llms.MessageContent) []completionMessage {
	out := make([]completionMessage, 0, len(messages))
	for _, msg := range messages {
		var text strings.Builder
		for _, part := range msg.Parts {
			if tc, ok := part.(llms.TextContent); ok {
				text.WriteString(tc.Text)
			}
		}
		out = append(out, completionMessage{Role: roleOf(msg.Role), Text: text.String()})
	}
	return out
}

func roleOf(role llms.ChatMessageType) string {
	switch role {
	case llms.ChatMessageTypeSystem:
		return "system"
	case llms.ChatMessageTypeAI:
		return "assistant"
	default:
		return "user"
	}
}
