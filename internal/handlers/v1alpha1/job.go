package v1alpha1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	api "github.com/statichq/sitesmith/api/v1alpha1"
)

func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req api.JobCreate
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	job, err := h.jobs.Create(r.Context(), sessionFromContext(r.Context()), caller(r), req)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, job)
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 0)

	jobs, err := h.jobs.List(r.Context(), sessionFromContext(r.Context()), limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, jobs)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.jobs.Get(r.Context(), sessionFromContext(r.Context()), jobID)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, job)
}

func (h *Handler) GetJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	afterID := int64(intQuery(r, "after_id", 0))
	limit := intQuery(r, "limit", 0)

	events, err := h.jobs.Events(r.Context(), sessionFromContext(r.Context()), jobID, afterID, limit)
	if err != nil {
		renderError(w, r, err)
		return
	}
	render.JSON(w, r, events)
}

func (h *Handler) DownloadArtifact(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	path, name, err := h.jobs.Artifact(r.Context(), sessionFromContext(r.Context()), jobID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	http.ServeFile(w, r, path)
}

type deployRequest struct {
	Force bool `json:"force"`
}

func (h *Handler) DeployJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req deployRequest
	if r.ContentLength > 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			http.Error(w, "malformed request body", http.StatusBadRequest)
			return
		}
	}

	job, err := h.jobs.Deploy(r.Context(), sessionFromContext(r.Context()), caller(r), jobID, req.Force)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, job)
}

func jobIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("malformed job id")
	}
	return id, nil
}

func intQuery(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		return fallback
	}
	return value
}
