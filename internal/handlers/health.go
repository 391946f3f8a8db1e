package handlers

import (
	"context"
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/collegeerp/pkg/http"
)

// Pinger reports whether a backing store is reachable
type Pinger interface {
	HealthCheck(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// HealthHandler reports database and Redis reachability
type HealthHandler struct {
	database Pinger
	redis    Pinger
}

// NewHealthHandler creates a new HealthHandler
func NewHealthHandler(database, redis Pinger) *HealthHandler {
	return &HealthHandler{database: database, redis: redis}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"status": "healthy", "database": "up", "redis": "up"}
	code := http.StatusOK

	if err := h.database.HealthCheck(ctx); err != nil {
		status["database"] = "down"
		status["status"] = "unhealthy"
		code = http.StatusServiceUnavailable
	}
	if h.redis != nil {
		if err := h.redis.HealthCheck(ctx); err != nil {
			status["redis"] = "down"
			status["status"] = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}

	pkghttp.WriteJSON(w, code, status)
}
