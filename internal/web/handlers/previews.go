package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/faceless-tools/faceless/internal/preview"
)

// PreviewsHandler serves the anonymized result blobs.
type PreviewsHandler struct {
	previews *preview.Store
}

// NewPreviewsHandler creates a new previews handler.
func NewPreviewsHandler(previews *preview.Store) *PreviewsHandler {
	return &PreviewsHandler{previews: previews}
}

// Get streams the blob behind a preview handle. With ?download=1 the
// response carries an attachment disposition under the anonymized filename.
func (h *PreviewsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	handle, data, ok := h.previews.Open(id)
	if !ok {
		respondError(w, http.StatusNotFound, "preview not found")
		return
	}

	w.Header().Set("Content-Type", handle.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	if r.URL.Query().Get("download") == "1" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", handle.Name))
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
