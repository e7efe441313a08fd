package v1alpha1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/statichq/sitesmith/internal/secrets"
)

func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.sessions.ProviderCatalog())
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := h.sessions.Reset(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	setSessionCookie(w, sessionID)
	render.JSON(w, r, map[string]string{"session_id": sessionID})
}

func (h *Handler) GetIntegrations(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessions.IntegrationState(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, state)
}

type llmIntegrationRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	APIKey   string `json:"api_key"`
}

func (h *Handler) SetLLMIntegration(w http.ResponseWriter, r *http.Request) {
	var req llmIntegrationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	if err := h.sessions.SetLLMCredential(r.Context(), sessionFromContext(r.Context()), req.Provider, req.Model, req.APIKey); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type publishIntegrationRequest struct {
	Token    string `json:"token"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Org      string `json:"org"`
}

func (h *Handler) SetPublishIntegration(w http.ResponseWriter, r *http.Request) {
	var req publishIntegrationRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	if err := h.sessions.SetPublishCredential(r.Context(), sessionFromContext(r.Context()), req.Token, req.Username, req.Email, req.Org); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) BeginGitHubConnect(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.sessions.BeginGitHubConnect(r.Context(), sessionFromContext(r.Context()))
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"auth_url": authURL})
}

func (h *Handler) CompleteGitHubConnect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	err := h.sessions.CompleteGitHubConnect(r.Context(), sessionFromContext(r.Context()),
		query.Get("state"), query.Get("code"))
	if err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearIntegration(w http.ResponseWriter, r *http.Request) {
	kind := secrets.Kind(chi.URLParam(r, "kind"))
	if kind != secrets.KindLLM && kind != secrets.KindPublish {
		http.Error(w, "unknown integration kind", http.StatusBadRequest)
		return
	}

	if err := h.sessions.ClearCredential(r.Context(), sessionFromContext(r.Context()), kind); err != nil {
		renderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
