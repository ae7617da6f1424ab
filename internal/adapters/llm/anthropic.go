package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/internal/domain/model"
	"github.com/okian/casve/pkg/logger"
)

// Anthropic calls the Anthropic messages API. The messages API has no
// structured output mode, so the schema is appended to the system prompt.
type Anthropic struct {
	client *anthropic.Client
	model  string
	log    logger.Logger
}

// NewAnthropic builds an Anthropic completer. An empty baseURL uses the public API.
func NewAnthropic(apiKey, modelName, baseURL string, log logger.Logger) *Anthropic {
	var opts []anthropic.ClientOption
	if baseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Anthropic{client: anthropic.NewClient(apiKey, opts...), model: modelName, log: log}
}

// Complete implements generation.Completer.
func (c *Anthropic) Complete(ctx context.Context, req generation.CompletionRequest) (*generation.Completion, error) {
	system := req.System
	if len(req.Schema) > 0 {
		system += "\n\nThe JSON must validate against this schema:\n" + string(req.Schema)
	}
	temperature := req.Temperature
	prompt := req.Prompt

	c.log.Debug(ctx, "anthropic request",
		logger.String("model", c.model),
		logger.Int("prompt_len", len(prompt)))
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      system,
		MaxTokens:   req.MaxTokens,
		Temperature: &temperature,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		return nil, ClassifyError(err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			text = *block.Text
			break
		}
	}
	if text == "" {
		return nil, newError(ErrorTypeResponse, "no text in response", false, 0, errors.New("empty content"))
	}

	c.log.Info(ctx, "anthropic response received",
		logger.Int("total_tokens", resp.Usage.InputTokens+resp.Usage.OutputTokens),
		logger.Int("elapsed_ms", int(time.Since(start).Milliseconds())))

	name := string(resp.Model)
	if name == "" {
		name = c.model
	}
	return &generation.Completion{
		Content: text,
		Model:   name,
		Usage: model.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}
