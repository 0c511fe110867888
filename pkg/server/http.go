package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// Handler returns the HTTP routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	mux.HandleFunc("GET /health", s.HealthHandler)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbErr := s.store.Ping(ctx)

	health := map[string]any{
		"status":              "healthy",
		"uptime_seconds":      int64(time.Since(s.startTime).Seconds()),
		"active_connections":  s.registry.Count(),
		"pending_transfers":   s.transfers.Len(),
		"database_accessible": dbErr == nil,
	}

	status := http.StatusOK
	if dbErr != nil {
		errorLog.Printf("Health check: database unreachable: %v", dbErr)
		health["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		errorLog.Printf("Error encoding health JSON: %v", err)
	}
}
