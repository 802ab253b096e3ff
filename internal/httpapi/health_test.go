package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmgate/toolgate/internal/backend"
)

type fakeHealthBackend struct{ status backend.HealthStatus }

func (f fakeHealthBackend) Name() string { return "fake" }
func (f fakeHealthBackend) Chat(context.Context, backend.ChatParams) (backend.ChatResult, error) {
	return backend.ChatResult{}, nil
}
func (f fakeHealthBackend) ChatStream(context.Context, backend.ChatParams) (<-chan backend.StreamDelta, error) {
	return nil, nil
}
func (f fakeHealthBackend) Health(context.Context) backend.HealthResult {
	return backend.HealthResult{Status: f.status}
}

func TestHealthHandler_OKWhenBackendReady(t *testing.T) {
	h := &HealthHandler{Backend: fakeHealthBackend{status: backend.HealthOK}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthHandler_ServiceUnavailableWhenAbsent(t *testing.T) {
	h := &HealthHandler{Backend: fakeHealthBackend{status: backend.HealthAbsent}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthHandler_ServiceUnavailableWhenNoModelLoaded(t *testing.T) {
	h := &HealthHandler{Backend: fakeHealthBackend{status: backend.HealthNoModelLoaded}}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
