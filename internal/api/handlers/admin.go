package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/taskctl/remotetask/internal/events"
	"github.com/taskctl/remotetask/internal/logger"
	"github.com/taskctl/remotetask/internal/remotetask"
)

// AdminHandler exposes process-health and registry-wide introspection.
type AdminHandler struct {
	factory   *remotetask.Factory
	publisher *events.RedisPubSub
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(factory *remotetask.Factory, publisher *events.RedisPubSub) *AdminHandler {
	return &AdminHandler{factory: factory, publisher: publisher}
}

// HealthCheck handles GET /admin/health.
func (h *AdminHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	active := len(h.factory.Registry().List("", ""))

	if h.publisher != nil && h.publisher.Client() != nil {
		if err := h.publisher.Client().Ping(r.Context()).Err(); err != nil {
			h.respondJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status":        "degraded",
				"eventBus":      "disconnected",
				"error":         err.Error(),
				"active_tasks":  active,
			})
			return
		}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"active_tasks": active,
	})
}

func (h *AdminHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}
