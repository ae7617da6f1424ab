package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/pkg/logger"
)

// OpenAI calls an OpenAI-compatible chat completion endpoint with a strict
// JSON schema response format.
type OpenAI struct {
	client *openai.Client
	model  string
	log    logger.Logger
}

// NewOpenAI builds an OpenAI completer. An empty baseURL uses the public API.
func NewOpenAI(apiKey, modelName, baseURL string, log logger.Logger) *OpenAI {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if log == nil {
		log = logger.Nop()
	}
	return &OpenAI{client: openai.NewClientWithConfig(cfg), model: modelName, log: log}
}

// Complete implements generation.Completer.
func (c *OpenAI) Complete(ctx context.Context, req generation.CompletionRequest) (*generation.Completion, error) {
	creq := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if len(req.Schema) > 0 {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   req.SchemaName,
				Schema: req.Schema,
				Strict: true,
			},
		}
	}

	c.log.Debug(ctx, "openai request",
		logger.String("model", c.model),
		logger.Int("prompt_len", len(req.Prompt)))
	start := time.Now()

	resp, err := c.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, ClassifyError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, newError(ErrorTypeResponse, "no choices in response", false, 0, errors.New("empty choices"))
	}

	c.log.Info(ctx, "openai response received",
		logger.Int("total_tokens", resp.Usage.TotalTokens),
		logger.Int("elapsed_ms", int(time.Since(start).Milliseconds())))

	name := resp.Model
	if name == "" {
		name = c.model
	}
	return &generation.Completion{
		Content: resp.Choices[0].Message.Content,
		Model:   name,
		Usage: model.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}
