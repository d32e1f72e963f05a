// Package factory builds raw provider clients from a model name.
package factory

import (
	"fmt"
	"strings"

	"concierge/internal/llmimpl/anthropic"
	"concierge/internal/llmimpl/google"
	"concierge/internal/llmimpl/openai"
	"concierge/pkg/config"
	"concierge/pkg/llm"
)

// Secrets is the credential source the factory pulls API keys from.
type Secrets interface {
	APIKeyFor(provider string) (string, error)
}

// NewClient builds a raw client for the given model. The provider comes
// from the model catalog, falling back to name-prefix detection for models
// not yet in the catalog.
func NewClient(model string, secrets Secrets) (llm.Client, error) {
	provider := providerFor(model)
	if provider == "" {
		return nil, fmt.Errorf("cannot determine provider for model %q", model)
	}

	apiKey, err := secrets.APIKeyFor(provider)
	if err != nil {
		return nil, fmt.Errorf("no API key for provider %s: %w", provider, err)
	}

	switch provider {
	case "google":
		return google.NewClient(apiKey, model), nil
	case "anthropic":
		return anthropic.NewClient(apiKey, model), nil
	case "openai":
		return openai.NewClient(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q for model %q", provider, model)
	}
}

func providerFor(model string) string {
	if info, ok := config.KnownModels[model]; ok {
		return info.Provider
	}
	switch {
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "openai"
	default:
		return ""
	}
}
