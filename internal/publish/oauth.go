package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	oauthAuthorizeURL = "https://github.com/login/oauth/authorize"
	oauthTokenURL     = "https://github.com/login/oauth/access_token"
)

// OAuthConfig identifies the GitHub OAuth app the connect flow runs under.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scope        string
}

// Configured reports whether a connect flow can run at all.
func (c OAuthConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// OAuthClient drives the GitHub authorization-code exchange that turns a
// browser round trip into a publish token.
type OAuthClient struct {
	cfg          OAuthConfig
	client       *http.Client
	authorizeURL string
	tokenURL     string
	apiBase      string
	log          *zap.SugaredLogger
}

func NewOAuthClient(cfg OAuthConfig, timeout time.Duration) *OAuthClient {
	return &OAuthClient{
		cfg:          cfg,
		client:       &http.Client{Timeout: timeout},
		authorizeURL: oauthAuthorizeURL,
		tokenURL:     oauthTokenURL,
		apiBase:      apiBase,
		log:          zap.S().Named("publish"),
	}
}

// AuthorizationURL builds the redirect target that starts the flow. The state
// value ties the eventual callback to the session that initiated it.
func (c *OAuthClient) AuthorizationURL(state string) string {
	query := url.Values{
		"client_id":    {c.cfg.ClientID},
		"redirect_uri": {c.cfg.RedirectURL},
		"scope":        {c.cfg.Scope},
		"state":        {state},
	}
	return c.authorizeURL + "?" + query.Encode()
}

// ExchangeCode trades the callback's authorization code for an access token.
func (c *OAuthClient) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"code":          {code},
		"redirect_uri":  {c.cfg.RedirectURL},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "token exchange request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("token exchange failed (%d)", resp.StatusCode)
	}

	var payload struct {
		AccessToken      string `json:"access_token"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", errors.Wrap(err, "failed to decode token exchange response")
	}
	if payload.AccessToken == "" {
		if payload.ErrorDescription != "" {
			return "", fmt.Errorf("token exchange failed: %s", payload.ErrorDescription)
		}
		return "", fmt.Errorf("token exchange response missing access_token")
	}
	return payload.AccessToken, nil
}

// FetchUsername resolves the authenticated user's login for the credential
// bundle.
func (c *OAuthClient) FetchUsername(ctx context.Context, accessToken string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/user", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "user profile request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("user profile request failed (%d)", resp.StatusCode)
	}

	var profile struct {
		Login string `json:"login"`
	}
	if err := json.Unmarshal(body, &profile); err != nil {
		return "", errors.Wrap(err, "failed to decode user profile")
	}
	if profile.Login == "" {
		return "", fmt.Errorf("user profile did not contain login")
	}
	return profile.Login, nil
}
