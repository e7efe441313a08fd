package publish

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOAuthClient(t *testing.T, srvURL string) *OAuthClient {
	t.Helper()
	c := NewOAuthClient(OAuthConfig{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://sitesmith.test/callback",
		Scope:        "public_repo",
	}, time.Second)
	c.authorizeURL = srvURL + "/authorize"
	c.tokenURL = srvURL + "/access_token"
	c.apiBase = srvURL
	c.log = zap.NewNop().Sugar()
	return c
}

func TestAuthorizationURLCarriesStateAndScope(t *testing.T) {
	c := testOAuthClient(t, "https://github.test")

	parsed, err := url.Parse(c.AuthorizationURL("state-1"))
	require.NoError(t, err)
	query := parsed.Query()
	assert.Equal(t, "client-id", query.Get("client_id"))
	assert.Equal(t, "state-1", query.Get("state"))
	assert.Equal(t, "public_repo", query.Get("scope"))
	assert.Equal(t, "https://sitesmith.test/callback", query.Get("redirect_uri"))
}

func TestExchangeCodeReturnsAccessToken(t *testing.T) {
	var gotCode string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotCode = r.PostForm.Get("code")
		assert.Equal(t, "client-secret", r.PostForm.Get("client_secret"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"gho_token"}`))
	}))
	defer srv.Close()

	token, err := testOAuthClient(t, srv.URL).ExchangeCode(context.Background(), "auth-code")
	require.NoError(t, err)
	assert.Equal(t, "gho_token", token)
	assert.Equal(t, "auth-code", gotCode)
}

func TestExchangeCodeSurfacesErrorDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"bad_verification_code","error_description":"The code passed is incorrect or expired."}`))
	}))
	defer srv.Close()

	_, err := testOAuthClient(t, srv.URL).ExchangeCode(context.Background(), "stale-code")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "incorrect or expired")
}

func TestFetchUsernameReadsLogin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/user", r.URL.Path)
		assert.Equal(t, "Bearer gho_token", r.Header.Get("Authorization"))
		assert.Equal(t, "2022-11-28", r.Header.Get("X-GitHub-Api-Version"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"login":"alice"}`))
	}))
	defer srv.Close()

	login, err := testOAuthClient(t, srv.URL).FetchUsername(context.Background(), "gho_token")
	require.NoError(t, err)
	assert.Equal(t, "alice", login)
}
