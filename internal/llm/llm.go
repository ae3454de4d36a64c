package llm

import (
	"context"
	"errors"
	"net/http"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/genieq/internal/config"
	"github.com/comigor/genieq/internal/remote"
)

// Client is the chat completion call sqlgen makes. Tests substitute a fake.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

var _ Client = (*openai.Client)(nil)

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// AsRemote maps a chat completion error onto the remote failure variants.
// HTTP 429 from the provider is rate limiting.
func AsRemote(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return remote.FromStatus(op, apiErr.HTTPStatusCode, 0, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if reqErr.HTTPStatusCode == http.StatusTooManyRequests {
			return remote.RateLimited(op, 0, reqErr)
		}
		return &remote.Error{Kind: remote.KindOther, Op: op, StatusCode: reqErr.HTTPStatusCode, Err: reqErr}
	}
	return remote.Other(op, err)
}
