// internal/handlers/api.go
package handlers

import (
	"net/http"

	"github.com/jason-s-yu/arena/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Stats is the body of GET /stats.
type Stats struct {
	Connected   int `json:"connected"`
	QueueLength int `json:"queueLength"`
	ActiveRooms int `json:"activeRooms"`
}

// HealthHandler reports liveness.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatsHandler reports connection, queue and room counts.
func StatsHandler(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, Stats{
			Connected:   srv.Registry.GetConnectedCount(),
			QueueLength: srv.Queue.GetQueueLength(),
			ActiveRooms: len(srv.Rooms.GetActiveRooms()),
		})
	}
}

// RoomsHandler lists active rooms, oldest first.
func RoomsHandler(srv *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, srv.Rooms.GetActiveRooms())
	}
}

// NewRouter mounts the websocket endpoint and the rate-limited HTTP API.
func NewRouter(logger *logrus.Logger, srv *Server, limiter *middleware.RateLimiter) http.Handler {
	mux := http.NewServeMux()
	logged := middleware.LogMiddleware(logger)

	mux.Handle("/ws", logged(WSHandler(logger, srv)))

	api := func(h http.Handler) http.Handler {
		return logged(limiter.Middleware(h))
	}
	mux.Handle("/healthz", api(http.HandlerFunc(HealthHandler)))
	mux.Handle("/stats", api(StatsHandler(srv)))
	mux.Handle("/rooms", api(RoomsHandler(srv)))
	return mux
}
