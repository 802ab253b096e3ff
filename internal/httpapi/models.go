package httpapi

import (
	"encoding/json"
	"net/http"
)

// ModelsHandler serves GET /v1/models, reporting the single model the
// gateway's one configured backend is fronting.
type ModelsHandler struct {
	ModelName string
}

type modelListResponse struct {
	Object string      `json:"object"`
	Data   []modelInfo `json:"data"`
}

type modelInfo struct {
	ID     string `json:"id"`
	Object string `json:"object"`
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(modelListResponse{
		Object: "list",
		Data:   []modelInfo{{ID: h.ModelName, Object: "model"}},
	})
}
