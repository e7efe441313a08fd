package v1alpha1

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

func (h *Handler) CreatePreview(w http.ResponseWriter, r *http.Request) {
	jobID, err := jobIDParam(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	preview, err := h.previews.Create(r.Context(), sessionFromContext(r.Context()), jobID)
	if err != nil {
		renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, preview)
}

func (h *Handler) ServePreviewRoot(w http.ResponseWriter, r *http.Request) {
	h.servePreview(w, r, "index.html")
}

func (h *Handler) ServePreviewAsset(w http.ResponseWriter, r *http.Request) {
	h.servePreview(w, r, chi.URLParam(r, "*"))
}

func (h *Handler) servePreview(w http.ResponseWriter, r *http.Request, relPath string) {
	token := chi.URLParam(r, "token")

	path, err := h.previews.Serve(token, relPath)
	if err != nil {
		renderError(w, r, err)
		return
	}
	http.ServeFile(w, r, path)
}
