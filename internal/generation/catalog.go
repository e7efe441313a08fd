package generation

import (
	"fmt"
	"strings"
)

// ProviderInfo describes one provider entry of the public catalog.
type ProviderInfo struct {
	ID         string   `json:"id"`
	Label      string   `json:"label"`
	Models     []string `json:"models"`
	AllowOther bool     `json:"allow_other"`
}

// Catalog order is the order the UI presents providers in.
var catalog = []ProviderInfo{
	{
		ID:    "aipipe",
		Label: "AI Pipe",
		Models: []string{
			"openai/gpt-5",
			"openai/gpt-5-mini",
			"openai/gpt-5-nano",
			"anthropic/claude-3.5-sonnet",
			"google/gemini-2.5-flash",
		},
		AllowOther: true,
	},
	{
		ID:    "gemini",
		Label: "Gemini",
		Models: []string{
			"gemini-2.5-pro",
			"gemini-2.5-flash",
			"gemini-2.5-flash-lite",
			"gemini-2.0-flash",
			"gemini-2.0-flash-lite",
		},
		AllowOther: true,
	},
	{
		ID:    "perplexity",
		Label: "Perplexity",
		Models: []string{
			"sonar-pro",
			"sonar-reasoning-pro",
			"sonar",
		},
		AllowOther: true,
	},
	{
		ID:    "openai",
		Label: "OpenAI",
		Models: []string{
			"gpt-5",
			"gpt-5-mini",
			"gpt-5-nano",
		},
		AllowOther: true,
	},
	{
		ID:    "anthropic",
		Label: "Anthropic",
		Models: []string{
			"claude-sonnet-4-20250514",
			"claude-opus-4-1-20250805",
			"claude-opus-4-20250514",
			"claude-3-7-sonnet-20250219",
			"claude-3-5-haiku-20241022",
		},
		AllowOther: true,
	},
}

// Catalog returns the provider catalog served to clients.
func Catalog() []ProviderInfo {
	out := make([]ProviderInfo, len(catalog))
	copy(out, catalog)
	return out
}

// IsSupportedProvider reports whether tag names a known provider.
func IsSupportedProvider(tag string) bool {
	for _, p := range catalog {
		if p.ID == tag {
			return true
		}
	}
	return false
}

// ResolveModel maps a requested model to the concrete model identifier the
// provider client will call. An empty request falls back to the provider's
// first catalog model. The "other" placeholder the UI uses for free-form
// entry is never a real model and is rejected.
func ResolveModel(provider, requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested != "" {
		switch strings.ToLower(requested) {
		case "other", "__other__":
			return "", &InvalidModelError{Provider: provider, Model: requested}
		}
		return requested, nil
	}
	for _, p := range catalog {
		if p.ID == provider {
			return p.Models[0], nil
		}
	}
	return "", &UnsupportedProviderError{Provider: provider}
}

// InvalidModelError reports a model request that cannot be forwarded to a
// provider.
type InvalidModelError struct {
	Provider string
	Model    string
}

func (e *InvalidModelError) Error() string {
	return fmt.Sprintf("model name must be provided when %q is selected for provider %s", e.Model, e.Provider)
}
