package codegen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"
)

// ErrEmptyReply is returned when the model answers with no content
var ErrEmptyReply = errors.New("model returned an empty reply")

// Completer sends one system+user exchange to a chat model
type Completer interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

// OpenAIClient is a Completer for any OpenAI-compatible chat endpoint
type OpenAIClient struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIClient creates a client for model. An empty baseURL keeps the
// library default; extra request options are applied last.
func NewOpenAIClient(logger *zap.Logger, baseURL, apiKey, model string, opts ...option.RequestOption) *OpenAIClient {
	var clientOpts []option.RequestOption
	if apiKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	clientOpts = append(clientOpts, opts...)

	return &OpenAIClient{
		client: openai.NewClient(clientOpts...),
		model:  model,
		logger: logger,
	}
}

// Complete returns the trimmed content of the first choice
func (c *OpenAIClient) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(temperature),
	})
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			c.logger.Warn("Chat completion rejected",
				zap.String("model", c.model),
				zap.Int("status", apiErr.StatusCode),
				zap.String("type", apiErr.Type))
		}
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyReply
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	if content == "" {
		return "", ErrEmptyReply
	}
	c.logger.Debug("Chat completion received",
		zap.String("model", c.model),
		zap.Int64("total_tokens", completion.Usage.TotalTokens))
	return content, nil
}
