package backend

import (
	"fmt"
	"log/slog"

	"github.com/llmgate/toolgate/internal/config"
)

// Registry holds exactly the two dialects this gateway can speak, selected by
// Config.BackendType.
type Registry struct {
	active Backend
}

func NewRegistry(cfg *config.Config, hook RequestHook, logger *slog.Logger) (*Registry, error) {
	var b Backend
	switch cfg.BackendType {
	case config.BackendNative:
		b = NewNativeBackend(cfg.BackendEndpoint, cfg.BackendAPIKey, cfg.BackendModel, cfg.BackendConnectTimeout, cfg.BackendReadTimeout, cfg.BackendRetryAttempts, cfg.BackendRetryInitDelay, hook, logger)
	case config.BackendOpenAICompatible, "":
		b = NewOpenAICompatibleBackend(cfg.BackendEndpoint, cfg.BackendAPIKey, cfg.BackendModel, cfg.BackendConnectTimeout, cfg.BackendReadTimeout, cfg.BackendRetryAttempts, cfg.BackendRetryInitDelay, hook, logger)
	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.BackendType)
	}
	return &Registry{active: b}, nil
}

// Active returns the single configured backend. There is never more than one:
// a gateway process speaks to exactly the backend dialect it was configured
// for, no domain-routed multi-provider lookup.
func (r *Registry) Active() Backend {
	return r.active
}
