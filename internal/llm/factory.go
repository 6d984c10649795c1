package llm

import (
	"errors"
	"fmt"

	"github.com/kidsclubplans/kcp/internal/config"
)

// ErrNotConfigured is returned when the selected provider has no API key.
var ErrNotConfigured = errors.New("llm provider has no api key configured")

// NewProvider creates the provider selected by cfg.LLM.Provider, wrapped with
// the configured retry policy.
func NewProvider(cfg *config.Config) (*RetryProvider, error) {
	provider, err := newProviderInternal(cfg)
	if err != nil {
		return nil, err
	}
	return WrapWithRetry(provider, RetryConfigFrom(cfg)), nil
}

func newProviderInternal(cfg *config.Config) (Provider, error) {
	switch cfg.LLM.Provider {
	case config.ProviderAnthropic:
		if cfg.LLM.Anthropic.APIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewAnthropicProvider(cfg.LLM.Anthropic.APIKey, cfg.LLM.Anthropic.Model), nil
	case config.ProviderOpenAI, "":
		if cfg.LLM.OpenAI.APIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewOpenAIProvider(cfg.LLM.OpenAI.APIKey, cfg.LLM.OpenAI.Model, cfg.LLM.OpenAI.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.LLM.Provider)
	}
}

// RetryConfigFrom builds the retry policy from the llm config section.
func RetryConfigFrom(cfg *config.Config) RetryConfig {
	rc := DefaultRetryConfig()
	rc.MaxRetries = cfg.LLM.MaxRetries
	rc.Timeout = cfg.LLM.Timeout
	rc.RetryAuth = cfg.LLM.RetryAuth
	return rc
}

// ModelName returns the model used by the configured provider.
func ModelName(cfg *config.Config) string {
	if cfg.LLM.Provider == config.ProviderAnthropic {
		return cfg.LLM.Anthropic.Model
	}
	return cfg.LLM.OpenAI.Model
}
