// Package generation turns a brief into a file manifest by calling an LLM
// provider. Providers are selected once at configuration time behind a single
// interface; the retry loop lives here and is opaque to the orchestrator.
package generation

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	api "github.com/statichq/sitesmith/api/v1alpha1"
)

const systemPrompt = "You generate production-ready static web apps that are directly deployable. " +
	"Never require server-side runtime, package installation, or build commands. " +
	"Always respond with strict JSON that matches the requested schema."

// Provider produces a manifest from a brief. One implementation per LLM
// provider tag.
type Provider interface {
	Name() string
	GenerateManifest(ctx context.Context, brief string, attachments []api.Attachment) (*api.Manifest, error)
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider   string
	APIKey     string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

// UnsupportedProviderError reports a provider tag with no implementation.
type UnsupportedProviderError struct {
	Provider string
}

func (e *UnsupportedProviderError) Error() string {
	return fmt.Sprintf("unsupported LLM provider: %s", e.Provider)
}

// New returns the provider implementation for cfg.Provider.
func New(cfg Config) (Provider, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	switch cfg.Provider {
	case "openai":
		return &chatCompletionProvider{
			name:         "openai",
			url:          "https://api.openai.com/v1/chat/completions",
			maxTokensKey: "max_completion_tokens",
			apiKey:       cfg.APIKey,
			model:        cfg.Model,
			client:       client,
			maxRetries:   retries,
		}, nil
	case "perplexity":
		return &chatCompletionProvider{
			name:         "perplexity",
			url:          "https://api.perplexity.ai/chat/completions",
			maxTokensKey: "max_tokens",
			apiKey:       cfg.APIKey,
			model:        cfg.Model,
			client:       client,
			maxRetries:   retries,
		}, nil
	case "aipipe":
		return &chatCompletionProvider{
			name:         "aipipe",
			url:          "https://aipipe.org/openrouter/v1/chat/completions",
			maxTokensKey: "max_tokens",
			apiKey:       cfg.APIKey,
			model:        cfg.Model,
			client:       client,
			maxRetries:   retries,
		}, nil
	case "anthropic":
		return &anthropicProvider{
			apiKey:     cfg.APIKey,
			model:      cfg.Model,
			client:     client,
			maxRetries: retries,
		}, nil
	case "gemini":
		return &geminiProvider{
			apiKey:     cfg.APIKey,
			model:      cfg.Model,
			client:     client,
			maxRetries: retries,
		}, nil
	default:
		return nil, &UnsupportedProviderError{Provider: cfg.Provider}
	}
}

// generateWithRetry drives the shared attempt loop around a single raw
// completion call.
func generateWithRetry(ctx context.Context, name, model string, maxRetries int, request func(ctx context.Context, prompt string) (string, error), brief string, attachments []api.Attachment) (*api.Manifest, error) {
	prompt := buildPrompt(brief, attachments)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		zap.S().Named("generation").Infow("requesting manifest",
			"provider", name, "model", model, "attempt", attempt)

		content, err := request(ctx, prompt)
		if err == nil {
			var manifest *api.Manifest
			manifest, err = ParseManifest(content)
			if err == nil {
				zap.S().Named("generation").Infof("received manifest with %d files", len(manifest.Files))
				return manifest, nil
			}
		}

		lastErr = err
		zap.S().Named("generation").Warnw("generation attempt failed",
			"provider", name, "model", model, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("%s API failed to produce a valid manifest: %w", name, lastErr)
}

func buildPrompt(brief string, attachments []api.Attachment) string {
	var sb strings.Builder
	sb.WriteString("Build a static frontend project from this brief:\n")
	sb.WriteString(brief)
	sb.WriteString("\n\n")
	if len(attachments) > 0 {
		sb.WriteString("The repository will also contain these uploaded attachments:\n")
		for _, a := range attachments {
			fmt.Fprintf(&sb, "- %s (%s)\n", a.Name, a.MediaType())
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Requirements:
- Return ONLY JSON matching this schema:
{
  "files": [
    {
      "path": "relative/path/to/file.ext",
      "content": "file contents as string or base64",
      "encoding": "text|base64",
      "executable": false
    }
  ],
  "readme": "optional README.md content",
  "commands": []
}
- Output must run as a static site without any build step.
- Include an index.html entry point and all required static assets in files.
- commands must always be an empty array because shell/build execution is disabled.
- Use browser-safe JavaScript only. Do not use server/runtime APIs.
- Do not depend on environment variables or backend-only secrets.
- If the brief is ambiguous, prefer a simple vanilla HTML/CSS/JS implementation that works immediately.`)
	return sb.String()
}
