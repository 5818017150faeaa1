package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthResponse represents the JSON response from the health check endpoint.
// Vector is omitted when the vectors live in the store itself.
type HealthResponse struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Vector    string `json:"vector,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthChecker is implemented by the store and by remote vector backends.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// NewHealthHandler creates an HTTP handler for the /health endpoint. vector
// may be nil.
func NewHealthHandler(store, vector HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		response := HealthResponse{
			Status:    "healthy",
			Store:     probe(ctx, store),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		if vector != nil {
			response.Vector = probe(ctx, vector)
		}
		status := http.StatusOK
		if response.Store != "connected" || (vector != nil && response.Vector != "connected") {
			response.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(response)
	}
}

func probe(ctx context.Context, c HealthChecker) string {
	if err := c.Health(ctx); err != nil {
		return "disconnected"
	}
	return "connected"
}
