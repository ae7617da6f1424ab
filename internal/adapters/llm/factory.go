package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/casve/internal/domain/generation"
	"github.com/okian/casve/pkg/logger"
)

// Provider names.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Default models per provider.
const (
	DefaultOpenAIModel    = "gpt-4-turbo-preview"
	DefaultAnthropicModel = "claude-3-5-sonnet-latest"
)

// Config selects and configures a provider.
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// New returns the Completer for cfg.Provider. A hosted provider without an API
// key fails with ErrMissingAPIKey; a custom BaseURL may run without one.
func New(cfg Config, log logger.Logger) (generation.Completer, string, error) {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	if cfg.APIKey == "" && cfg.BaseURL == "" {
		return nil, "", fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}
	switch provider {
	case ProviderOpenAI:
		name := cfg.Model
		if name == "" {
			name = DefaultOpenAIModel
		}
		return NewOpenAI(cfg.APIKey, name, cfg.BaseURL, log), name, nil
	case ProviderAnthropic:
		name := cfg.Model
		if name == "" {
			name = DefaultAnthropicModel
		}
		return NewAnthropic(cfg.APIKey, name, cfg.BaseURL, log), name, nil
	}
	return nil, "", fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// Unavailable is a Completer that always fails permanently, used when no
// provider could be configured so the service still starts.
type Unavailable struct {
	Err error
}

// Complete implements generation.Completer.
func (u Unavailable) Complete(context.Context, generation.CompletionRequest) (*generation.Completion, error) {
	return nil, newError(ErrorTypeAuth, "llm provider not configured", false, 0, u.Err)
}
