package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/llmgate/toolgate/internal/backend"
)

// HealthHandler serves GET /health by probing the configured backend: OK
// when a model is ready to serve, 503 with a diagnostic message otherwise
// (absent backend vs. reachable-but-no-model-loaded are both reported, not
// collapsed into one generic failure).
type HealthHandler struct {
	Backend backend.Backend
}

type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	result := h.Backend.Health(ctx)

	w.Header().Set("Content-Type", "application/json")
	if result.Status == backend.HealthOK {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "ok"})
		return
	}

	w.WriteHeader(http.StatusServiceUnavailable)
	status := "backend_absent"
	if result.Status == backend.HealthNoModelLoaded {
		status = "no_model_loaded"
	}
	_ = json.NewEncoder(w).Encode(healthResponse{Status: status, Message: result.Message})
}
