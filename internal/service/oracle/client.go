package oracle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ventlabs/vent-backend/internal/model/chat"
)

// Client is the stateless reply oracle: given the full ordered history it
// returns exactly one reply. No memory between calls, no internal retries.
type Client interface {
	Reply(ctx context.Context, turns []chat.Turn, systemPrompt string) (string, error)
}

// Config carries the provider settings for one oracle client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	TopP        float32
	Timeout     time.Duration
}

// OpenAIClient speaks the chat-completions wire contract.
type OpenAIClient struct {
	api         *openai.Client
	model       string
	temperature float32
	topP        float32
	timeout     time.Duration
	logger      zerolog.Logger
}

// NewClient builds an oracle client against an OpenAI-compatible endpoint.
func NewClient(cfg Config, logger zerolog.Logger) *OpenAIClient {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &OpenAIClient{
		api:         openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		timeout:     timeout,
		logger:      logger.With().Str("component", "oracle").Logger(),
	}
}

// Reply performs one round trip: system prompt first, then the history in
// order. The response shape is validated before content is extracted.
func (c *OpenAIClient) Reply(ctx context.Context, turns []chat.Turn, systemPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessage, 0, len(turns)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, turn := range turns {
		role := openai.ChatMessageRoleAssistant
		if turn.Role == chat.RoleUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: turn.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
		TopP:        c.topP,
	})
	if err != nil {
		classified := classify(err)
		c.logger.Error().Err(err).Int("turns", len(turns)).Msg("completion failed")
		return "", classified
	}

	if len(resp.Choices) == 0 {
		return "", ErrEmptyReply
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}

	c.logger.Debug().Int("turns", len(turns)).Int("replyLength", len(content)).Msg("reply generated")
	return content, nil
}

// classify splits provider failures from transport failures. Any response the
// provider actually produced counts as a rejection; everything else means the
// oracle was unreachable.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &RejectedError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &RejectedError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return &UnavailableError{Err: err}
}
