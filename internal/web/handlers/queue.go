package handlers

import (
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/constants"
	"github.com/faceless-tools/faceless/internal/media"
	"github.com/faceless-tools/faceless/internal/queue"
	"github.com/faceless-tools/faceless/internal/selection"
)

// RunState reports whether a processing run is active.
type RunState interface {
	Running() bool
}

// QueueHandler handles the tracked-file queue endpoints.
type QueueHandler struct {
	store    *queue.Store
	settings *SettingsManager
	runState RunState
	logger   *zap.Logger
}

// NewQueueHandler creates a new queue handler.
func NewQueueHandler(store *queue.Store, settings *SettingsManager, runState RunState, logger *zap.Logger) *QueueHandler {
	return &QueueHandler{
		store:    store,
		settings: settings,
		runState: runState,
		logger:   logger,
	}
}

type entryResponse struct {
	Token         string `json:"token"`
	Name          string `json:"name"`
	Size          int64  `json:"size"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	FacesDetected int    `json:"faces_detected,omitempty"`
	Error         string `json:"error,omitempty"`
	PreviewURL    string `json:"preview_url,omitempty"`
	DownloadURL   string `json:"download_url,omitempty"`
	DownloadName  string `json:"download_name,omitempty"`
}

type queueResponse struct {
	Entries []entryResponse `json:"entries"`
	Running bool            `json:"running"`
}

type selectResponse struct {
	queueResponse
	Selected int `json:"selected"`
	Skipped  int `json:"skipped,omitempty"`
	Dropped  int `json:"dropped,omitempty"`
}

func toEntryResponse(e queue.Entry) entryResponse {
	resp := entryResponse{
		Token:         e.Token,
		Name:          e.File.Name,
		Size:          e.File.Size,
		Kind:          string(e.File.Kind),
		Status:        string(e.Status),
		FacesDetected: e.FacesDetected,
		Error:         e.ErrorMessage,
	}
	if e.Preview != nil {
		resp.PreviewURL = "/api/v1/previews/" + e.Preview.ID
		resp.DownloadURL = resp.PreviewURL + "?download=1"
		resp.DownloadName = e.Preview.Name
	}
	return resp
}

func buildQueueResponse(store *queue.Store, runState RunState) queueResponse {
	entries := store.Entries()
	resp := queueResponse{
		Entries: make([]entryResponse, 0, len(entries)),
		Running: runState.Running(),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, toEntryResponse(e))
	}
	return resp
}

// List returns the queue in order.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, buildQueueResponse(h.store, h.runState))
}

// Select adds uploaded files to the queue according to the active selection
// mode: single replaces the queue with the first eligible file, batch appends
// and keeps the oldest ten. Files without an accepted media extension are
// skipped.
func (h *QueueHandler) Select(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		respondError(w, http.StatusBadRequest, "failed to parse multipart form")
		return
	}

	fileHeaders := r.MultipartForm.File["files"]
	if len(fileHeaders) == 0 {
		respondError(w, http.StatusBadRequest, "no files provided")
		return
	}

	skipped := 0
	candidates := make([]media.File, 0, len(fileHeaders))
	for _, fh := range fileHeaders {
		f, err := fh.Open()
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to open uploaded file: %s", fh.Filename))
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("failed to read uploaded file: %s", fh.Filename))
			return
		}

		file, err := media.FromBytes(fh.Filename, data)
		if err != nil {
			h.logger.Info("skipping unsupported file", zap.String("file", fh.Filename))
			skipped++
			continue
		}
		candidates = append(candidates, file)
	}

	mode := h.settings.Get().Mode
	files := selection.Normalize(mode, candidates)
	if len(files) == 0 {
		respondError(w, http.StatusBadRequest, "no supported media files in selection")
		return
	}

	entries := selection.Entries(files)
	before := h.store.Len()
	if mode == queue.ModeBatch {
		h.store.Append(entries)
	} else {
		h.store.ReplaceAll(entries)
	}

	dropped := 0
	if mode == queue.ModeBatch {
		dropped = before + len(entries) - h.store.Len()
	}

	respondJSON(w, http.StatusOK, selectResponse{
		queueResponse: buildQueueResponse(h.store, h.runState),
		Selected:      len(entries) - dropped,
		Skipped:       skipped,
		Dropped:       dropped,
	})
}

// Clear empties the queue and releases all previews.
func (h *QueueHandler) Clear(w http.ResponseWriter, r *http.Request) {
	h.store.Clear()
	respondJSON(w, http.StatusOK, buildQueueResponse(h.store, h.runState))
}
