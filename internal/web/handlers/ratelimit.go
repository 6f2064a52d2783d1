package handlers

import (
	"net/http"

	"github.com/faceless-tools/faceless/internal/quota"
)

// RateLimitHandler handles the quota snapshot endpoint.
type RateLimitHandler struct {
	gate *quota.Gate
}

// NewRateLimitHandler creates a new rate limit handler.
func NewRateLimitHandler(gate *quota.Gate) *RateLimitHandler {
	return &RateLimitHandler{gate: gate}
}

type rateLimitPayload struct {
	Known     bool `json:"known"`
	Used      int  `json:"used"`
	Remaining int  `json:"remaining"`
	Limit     int  `json:"limit"`
}

// Get returns the last known quota snapshot. Passing ?refresh=1 reads the
// service first.
func (h *RateLimitHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "1" {
		h.gate.Refresh(r.Context())
	}

	snapshot, known := h.gate.Snapshot()
	respondJSON(w, http.StatusOK, rateLimitPayload{
		Known:     known,
		Used:      snapshot.Used,
		Remaining: snapshot.Remaining,
		Limit:     snapshot.Limit,
	})
}
