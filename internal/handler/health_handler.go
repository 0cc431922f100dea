// internal/handler/health_handler.go
package handler

import (
	"context"
	"net/http"
	"time"

	"settlement-service/pkg/response"

	"go.uber.org/zap"
)

// Pinger is anything the service depends on that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	deps   map[string]Pinger
	logger *zap.Logger
}

func NewHealthHandler(deps map[string]Pinger, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{deps: deps, logger: logger}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(h.deps))
	healthy := true
	for name, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			checks[name] = "down"
			healthy = false
			continue
		}
		checks[name] = "up"
	}

	if !healthy {
		response.Write(w, http.StatusServiceUnavailable, response.APIResponse{
			Status:  "error",
			Code:    "unhealthy",
			Message: "one or more dependencies are down",
			Data:    checks,
		})
		return
	}
	response.JSON(w, http.StatusOK, checks)
}
