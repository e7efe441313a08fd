// Package v1alpha1 exposes the HTTP surface of the service: session and
// integration management, job submission and tracking, artifact download and
// live previews.
package v1alpha1

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/statichq/sitesmith/internal/service"
)

const SessionCookieName = "sitesmith_session"

type sessionKeyType struct{}

var sessionKey sessionKeyType

type Handler struct {
	sessions *service.SessionService
	jobs     *service.JobService
	previews *service.PreviewService
}

func NewHandler(sessions *service.SessionService, jobs *service.JobService, previews *service.PreviewService) *Handler {
	return &Handler{
		sessions: sessions,
		jobs:     jobs,
		previews: previews,
	}
}

// Routes mounts the full API surface onto router.
func (h *Handler) Routes(router chi.Router) {
	router.Get("/health", h.Health)

	router.Route("/api/v1alpha1", func(r chi.Router) {
		r.Use(h.SessionMiddleware)

		r.Get("/providers", h.ListProviders)
		r.Post("/session/reset", h.ResetSession)

		r.Get("/integrations", h.GetIntegrations)
		r.Put("/integrations/llm", h.SetLLMIntegration)
		r.Put("/integrations/publish", h.SetPublishIntegration)
		r.Get("/integrations/github/connect", h.BeginGitHubConnect)
		r.Get("/integrations/github/callback", h.CompleteGitHubConnect)
		r.Delete("/integrations/{kind}", h.ClearIntegration)

		r.Post("/jobs", h.CreateJob)
		r.Get("/jobs", h.ListJobs)
		r.Get("/jobs/{id}", h.GetJob)
		r.Get("/jobs/{id}/events", h.GetJobEvents)
		r.Get("/jobs/{id}/artifact", h.DownloadArtifact)
		r.Post("/jobs/{id}/deploy", h.DeployJob)
		r.Post("/jobs/{id}/preview", h.CreatePreview)
	})

	router.Get("/preview/{token}", h.ServePreviewRoot)
	router.Get("/preview/{token}/*", h.ServePreviewAsset)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// SessionMiddleware guarantees every API request runs under a valid session,
// minting one and setting the cookie when needed.
func (h *Handler) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		incoming := requestSessionID(r)

		sessionID, isNew, err := h.sessions.Ensure(r.Context(), incoming)
		if err != nil {
			renderError(w, r, err)
			return
		}
		if isNew || sessionID != incoming {
			setSessionCookie(w, sessionID)
		}

		ctx := context.WithValue(r.Context(), sessionKey, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestSessionID(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return r.Header.Get("x-session-id")
}

func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func sessionFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(sessionKey).(string); ok {
		return id
	}
	return ""
}

// caller is the rate-limit fingerprint of the request origin.
func caller(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type errorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after_seconds,omitempty"`
}

func renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	resp := errorResponse{Error: err.Error()}

	var (
		notFound    *service.ErrJobNotFound
		invalid     *service.ErrInvalidJobRequest
		tooLarge    *service.ErrAttachmentTooLarge
		integration *service.ErrIntegrationRequired
		overloaded  *service.ErrQueueOverloaded
		tooManyJobs *service.ErrTooManyActiveJobs
		tooManyPrev *service.ErrTooManyPreviews
		limited     *service.ErrRateLimited
		noArtifact  *service.ErrArtifactNotAvailable
		badState    *service.ErrInvalidJobState
		noPreview   *service.ErrPreviewNotAvailable
		notStatic   *service.ErrNotStaticSite
	)

	switch {
	case errors.As(err, &notFound), errors.As(err, &noPreview):
		status = http.StatusNotFound
	case errors.As(err, &invalid), errors.As(err, &notStatic):
		status = http.StatusBadRequest
	case errors.As(err, &tooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.As(err, &integration):
		status = http.StatusPreconditionFailed
	case errors.As(err, &limited):
		status = http.StatusTooManyRequests
		retry := int(limited.RetryAfter.Seconds())
		if retry < 1 {
			retry = 1
		}
		resp.RetryAfter = retry
		w.Header().Set("Retry-After", fmt.Sprint(retry))
	case errors.As(err, &overloaded), errors.As(err, &tooManyJobs), errors.As(err, &tooManyPrev):
		status = http.StatusServiceUnavailable
	case errors.As(err, &noArtifact), errors.As(err, &badState):
		status = http.StatusConflict
	}

	render.Status(r, status)
	render.JSON(w, r, resp)
}
