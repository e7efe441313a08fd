package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	api "github.com/statichq/sitesmith/api/v1alpha1"
	"github.com/statichq/sitesmith/internal/generation"
	"github.com/statichq/sitesmith/internal/secrets"
)

// OAuthExchanger is the GitHub authorization-code flow consumed by the
// connect endpoints. A nil exchanger means the flow is not configured and
// publish credentials can only be set directly.
type OAuthExchanger interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (string, error)
	FetchUsername(ctx context.Context, accessToken string) (string, error)
}

// SessionService manages browser sessions and their credential bundles.
type SessionService struct {
	secrets *secrets.Store
	oauth   OAuthExchanger
	log     *zap.SugaredLogger
}

func NewSessionService(sec *secrets.Store, oauth OAuthExchanger) *SessionService {
	return &SessionService{
		secrets: sec,
		oauth:   oauth,
		log:     zap.S().Named("session_service"),
	}
}

// Ensure returns a valid session id for the caller, minting one when needed.
func (s *SessionService) Ensure(ctx context.Context, sessionID string) (string, bool, error) {
	id, isNew, err := s.secrets.EnsureSession(ctx, sessionID)
	if err != nil {
		return "", false, err
	}
	if isNew {
		s.log.Infow("session created", "session_id", id)
	}
	return id, isNew, nil
}

// Reset drops every key of the old session and issues a fresh id.
func (s *SessionService) Reset(ctx context.Context, sessionID string) (string, error) {
	id, err := s.secrets.ResetSession(ctx, sessionID)
	if err != nil {
		return "", err
	}
	s.log.Infow("session reset", "old_session_id", sessionID, "session_id", id)
	return id, nil
}

// SetLLMCredential validates and stores the session's LLM bundle.
func (s *SessionService) SetLLMCredential(ctx context.Context, sessionID, provider, model, apiKey string) error {
	if !generation.IsSupportedProvider(provider) {
		return NewErrInvalidJobRequest("unsupported LLM provider: " + provider)
	}
	if apiKey == "" {
		return NewErrInvalidJobRequest("api key is required")
	}
	resolved, err := generation.ResolveModel(provider, model)
	if err != nil {
		return NewErrInvalidJobRequest(err.Error())
	}

	return s.secrets.StoreCredential(ctx, sessionID, secrets.KindLLM, secrets.Bundle{
		"provider": provider,
		"model":    resolved,
		"api_key":  apiKey,
	})
}

// SetPublishCredential validates and stores the session's GitHub bundle.
func (s *SessionService) SetPublishCredential(ctx context.Context, sessionID, token, username, email, org string) error {
	if token == "" || username == "" || email == "" {
		return NewErrInvalidJobRequest("token, username and email are required")
	}

	return s.secrets.StoreCredential(ctx, sessionID, secrets.KindPublish, secrets.Bundle{
		"token":    token,
		"username": username,
		"email":    email,
		"org":      org,
	})
}

func (s *SessionService) ClearCredential(ctx context.Context, sessionID string, kind secrets.Kind) error {
	return s.secrets.ClearCredential(ctx, sessionID, kind)
}

// BeginGitHubConnect mints a one-shot state value, stores it under the
// session and returns the authorization URL the browser should visit.
func (s *SessionService) BeginGitHubConnect(ctx context.Context, sessionID string) (string, error) {
	if s.oauth == nil {
		return "", NewErrInvalidJobRequest("github connect is not configured")
	}

	state := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.secrets.StoreOAuthState(ctx, sessionID, state); err != nil {
		return "", err
	}
	return s.oauth.AuthorizationURL(state), nil
}

// CompleteGitHubConnect handles the OAuth callback: the state must match the
// one stored for the session, then the code is exchanged for a token and the
// resolved username stored as the session's publish bundle.
func (s *SessionService) CompleteGitHubConnect(ctx context.Context, sessionID, state, code string) error {
	if s.oauth == nil {
		return NewErrInvalidJobRequest("github connect is not configured")
	}
	if state == "" || code == "" {
		return NewErrInvalidJobRequest("state and code are required")
	}

	stored, err := s.secrets.ConsumeOAuthState(ctx, sessionID)
	if err != nil {
		return err
	}
	if stored == "" || stored != state {
		s.log.Warnw("rejected github callback with mismatched state", "session_id", sessionID)
		return NewErrInvalidJobRequest("state mismatch")
	}

	token, err := s.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return err
	}
	username, err := s.oauth.FetchUsername(ctx, token)
	if err != nil {
		return err
	}

	s.log.Infow("github account connected", "session_id", sessionID, "username", username)
	return s.secrets.StoreCredential(ctx, sessionID, secrets.KindPublish, secrets.Bundle{
		"token":    token,
		"username": username,
		"email":    username + "@users.noreply.github.com",
	})
}

// IntegrationState summarizes which credentials the session has configured,
// without revealing any secret material.
func (s *SessionService) IntegrationState(ctx context.Context, sessionID string) (*api.IntegrationState, error) {
	state := &api.IntegrationState{}

	publishBundle, err := s.secrets.GetCredential(ctx, sessionID, secrets.KindPublish)
	if err != nil {
		return nil, err
	}
	if publishBundle != nil {
		state.Publish.Connected = true
		if username := publishBundle["username"]; username != "" {
			state.Publish.Username = &username
		}
	}

	llmBundle, err := s.secrets.GetCredential(ctx, sessionID, secrets.KindLLM)
	if err != nil {
		return nil, err
	}
	if llmBundle != nil {
		state.LLM.Configured = true
		if provider := llmBundle["provider"]; provider != "" {
			state.LLM.Provider = &provider
		}
		if model := llmBundle["model"]; model != "" {
			state.LLM.Model = &model
		}
	}

	return state, nil
}

// ProviderCatalog returns the selectable providers and models.
func (s *SessionService) ProviderCatalog() []generation.ProviderInfo {
	return generation.Catalog()
}
