package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/okian/casve/pkg/errs"
)

// EnvPrefix prefixes every environment override, e.g. CASVE_ADDR.
const EnvPrefix = "CASVE_"

// legacyEnv maps variables read by earlier deployments onto config keys.
// They apply only when the key was not set by the file or a CASVE_ variable.
var legacyEnv = map[string]string{
	"llm_api_key":    "OPENAI_API_KEY",
	"llm_model":      "OPENAI_MODEL",
	"allowed_origin": "FRONTEND_URL",
}

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New(ctx))
//  2. file (YAML) if CASVE_CONFIG is set
//  3. env (prefix CASVE_)
func Load(ctx context.Context) (*Config, error) {
	const op = "config.Load"
	base := New(ctx)

	k := koanf.New(".")

	if path := os.Getenv(EnvPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errs.Wrap(op, ErrLoadConfig, err)
		}
	}

	// CASVE_LLM_API_KEY -> llm_api_key; flat keys keep their underscores.
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, errs.Wrap(op, ErrLoadConfig, err)
	}

	for key, name := range legacyEnv {
		if k.Exists(key) {
			continue
		}
		if v, ok := os.LookupEnv(name); ok && v != "" {
			if err := k.Set(key, v); err != nil {
				return nil, errs.Wrap(op, ErrLoadConfig, err)
			}
		}
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, errs.Wrap(op, ErrLoadConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	const op = "config.Validate"
	var problems []string
	if c.Addr == "" {
		problems = append(problems, "addr must not be empty")
	}
	switch c.LLMProvider {
	case "openai", "anthropic":
	default:
		problems = append(problems, fmt.Sprintf("llm_provider %q is not openai or anthropic", c.LLMProvider))
	}
	switch c.StoreBackend {
	case "memory", "redis":
	case "sqlite":
		if c.StorePath == "" {
			problems = append(problems, "store_path is required for sqlite")
		}
	default:
		problems = append(problems, fmt.Sprintf("store_backend %q is not memory, sqlite or redis", c.StoreBackend))
	}
	if c.LLMTimeoutMS <= 0 {
		problems = append(problems, "llm_timeout_ms must be positive")
	}
	if c.LLMMaxRetries < 0 {
		problems = append(problems, "llm_max_retries must not be negative")
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		problems = append(problems, "llm_temperature must be within [0, 2]")
	}
	if c.LLMMaxTokens <= 0 {
		problems = append(problems, "llm_max_tokens must be positive")
	}
	if c.JournalQueueSize <= 0 {
		problems = append(problems, "journal_queue_size must be positive")
	}
	if c.LogDir == "" {
		problems = append(problems, "log_dir must not be empty")
	}
	if len(problems) > 0 {
		return errs.Wrap(op, ErrInvalidConfig, fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return nil
}
