package handlers

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/dispatch"
	"github.com/faceless-tools/faceless/internal/queue"
	"github.com/faceless-tools/faceless/internal/quota"
)

// RunHandler handles the processing run endpoint.
type RunHandler struct {
	orch     *dispatch.Orchestrator
	store    *queue.Store
	settings *SettingsManager
	gate     *quota.Gate
	logger   *zap.Logger
}

// NewRunHandler creates a new run handler.
func NewRunHandler(orch *dispatch.Orchestrator, store *queue.Store, settings *SettingsManager, gate *quota.Gate, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		orch:     orch,
		store:    store,
		settings: settings,
		gate:     gate,
		logger:   logger,
	}
}

type runResponse struct {
	queueResponse
	RateLimit *rateLimitPayload `json:"rate_limit,omitempty"`
}

// Start runs the queue with the active settings and blocks until every
// dispatched file has an outcome, then returns the updated queue.
func (h *RunHandler) Start(w http.ResponseWriter, r *http.Request) {
	settings := h.settings.Get()

	err := h.orch.Run(r.Context(), settings)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrRunActive):
		respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, dispatch.ErrQuotaExhausted):
		respondError(w, http.StatusTooManyRequests, err.Error())
		return
	case errors.Is(err, dispatch.ErrEmptyQueue), errors.Is(err, dispatch.ErrNoEligibleFiles):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	default:
		// Settings validation is the only remaining failure mode.
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := runResponse{queueResponse: buildQueueResponse(h.store, h.orch)}
	if snapshot, ok := h.gate.Snapshot(); ok {
		resp.RateLimit = &rateLimitPayload{
			Known:     true,
			Used:      snapshot.Used,
			Remaining: snapshot.Remaining,
			Limit:     snapshot.Limit,
		}
	}
	respondJSON(w, http.StatusOK, resp)
}
