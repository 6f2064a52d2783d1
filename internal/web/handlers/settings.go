package handlers

import (
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/faceless-tools/faceless/internal/anonymizer"
	"github.com/faceless-tools/faceless/internal/dispatch"
	"github.com/faceless-tools/faceless/internal/queue"
)

// SettingsManager holds the active anonymization settings for the session.
type SettingsManager struct {
	settings dispatch.Settings
	mu       sync.RWMutex
}

// NewSettingsManager creates a manager seeded with the defaults.
func NewSettingsManager() *SettingsManager {
	return &SettingsManager{settings: dispatch.DefaultSettings()}
}

// Get returns the active settings.
func (m *SettingsManager) Get() dispatch.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Set replaces the active settings.
func (m *SettingsManager) Set(s dispatch.Settings) {
	m.mu.Lock()
	m.settings = s
	m.mu.Unlock()
}

// SettingsHandler handles the settings endpoints.
type SettingsHandler struct {
	settings *SettingsManager
	store    *queue.Store
	logger   *zap.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(settings *SettingsManager, store *queue.Store, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{
		settings: settings,
		store:    store,
		logger:   logger,
	}
}

type settingsPayload struct {
	Method    string `json:"method"`
	Intensity int    `json:"intensity"`
	Mode      string `json:"mode"`
}

type settingsResponse struct {
	settingsPayload
	QueueCleared bool `json:"queue_cleared,omitempty"`
}

func settingsToPayload(s dispatch.Settings) settingsPayload {
	return settingsPayload{
		Method:    string(s.Method),
		Intensity: s.Intensity,
		Mode:      string(s.Mode),
	}
}

// Get returns the active settings.
func (h *SettingsHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, settingsResponse{settingsPayload: settingsToPayload(h.settings.Get())})
}

// Update replaces the active settings. Switching the selection mode clears
// the queue, since the two modes track files under different capacity rules.
func (h *SettingsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var payload settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	next := dispatch.Settings{
		Method:    anonymizer.Method(payload.Method),
		Intensity: payload.Intensity,
		Mode:      queue.Mode(payload.Mode),
	}
	if err := next.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	previous := h.settings.Get()
	cleared := false
	if next.Mode != previous.Mode {
		h.store.Clear()
		cleared = true
		h.logger.Info("selection mode changed, queue cleared",
			zap.String("from", string(previous.Mode)),
			zap.String("to", string(next.Mode)),
		)
	}
	h.settings.Set(next)

	respondJSON(w, http.StatusOK, settingsResponse{
		settingsPayload: settingsToPayload(next),
		QueueCleared:    cleared,
	})
}
