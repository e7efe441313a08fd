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

// chatCompletionProvider speaks the OpenAI chat-completions wire format, which
// Perplexity and AIPipe also implement. The per-provider differences are the
// endpoint URL and the name of the completion token limit field.
type chatCompletionProvider struct {
	name         string
	url          string
	maxTokensKey string
	apiKey       string
	model        string
	client       *http.Client
	maxRetries   int
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (p *chatCompletionProvider) Name() string { return p.name }

func (p *chatCompletionProvider) GenerateManifest(ctx context.Context, brief string, attachments []api.Attachment) (*api.Manifest, error) {
	return generateWithRetry(ctx, p.name, p.model, p.maxRetries, p.complete, brief, attachments)
}

func (p *chatCompletionProvider) complete(ctx context.Context, prompt string) (string, error) {
	payload := map[string]any{
		"model": p.model,
		"messages": []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		p.maxTokensKey: 16000,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode chat request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build chat request")
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", errors.Wrapf(err, "%s request failed", p.name)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return "", errors.Wrapf(err, "failed to read %s response", p.name)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", errors.Wrapf(err, "failed to decode %s response", p.name)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("%s API error (%d): %s", p.name, resp.StatusCode, parsed.Error.Message)
		}
		return "", fmt.Errorf("%s API error (%d)", p.name, resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s response contained no choices", p.name)
	}
	return parsed.Choices[0].Message.Content, nil
}
