package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/pkg/errors"

	api "github.com/statichq/sitesmith/api/v1alpha1"
)

const anthropicURL = "https://api.anthropic.com/v1/messages"

type anthropicProvider struct {
	apiKey     string
	model      string
	client     *http.Client
	maxRetries int
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) GenerateManifest(ctx context.Context, brief string, attachments []api.Attachment) (*api.Manifest, error) {
	return generateWithRetry(ctx, "anthropic", p.model, p.maxRetries, p.complete, brief, attachments)
}

func (p *anthropicProvider) complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model":      p.model,
		"max_tokens": 16000,
		"system":     systemPrompt,
		"messages": []chatMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode anthropic request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, anthropicURL, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build anthropic request")
	}
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "anthropic request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", errors.Wrap(err, "failed to read anthropic response")
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrap(err, "failed to decode anthropic response")
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("anthropic API error (%d): %s", resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("anthropic API error (%d)", resp.StatusCode)
	}

	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("anthropic response contained no text block")
}
