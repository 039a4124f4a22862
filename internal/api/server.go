// Package api provides the HTTP API for viewing and editing the city map.
// GET endpoints and tile edits are public; snapshot, reset and speed control
// require a bearer token (admin control plane).
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/persistence"
	"github.com/talgya/tilecity/internal/placement"
)

const (
	maxSSEConns = 8
	maxWSConns  = 32
)

// Server serves the map over HTTP.
type Server struct {
	Coord    *placement.Coordinator
	Eng      *engine.Engine  // nil disables animated generation
	DB       *persistence.DB // nil disables snapshots
	Port     int
	AdminKey string   // Bearer token for admin endpoints. Empty = admin disabled.
	Origins  []string // Extra CORS origins on top of the localhost dev servers.

	GeneratePerMinute int // Rate limit for /generate per client IP. 0 = 6.

	started  time.Time
	sseConns int32
	wsConns  int32
}

// Handler builds the routed, CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	if s.started.IsZero() {
		s.started = time.Now()
	}
	perMinute := s.GeneratePerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	generateLimiter := NewRateLimiter(perMinute, time.Minute)

	mux := http.NewServeMux()

	// Public reads.
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/map", s.handleMap)
	mux.HandleFunc("GET /api/v1/cell/{x}/{y}", s.handleCell)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)

	// Public edits.
	mux.HandleFunc("POST /api/v1/place", s.handlePlace)
	mux.HandleFunc("POST /api/v1/remove", s.handleRemove)
	mux.HandleFunc("POST /api/v1/undo", s.handleUndo)
	mux.HandleFunc("POST /api/v1/redo", s.handleRedo)
	mux.HandleFunc("POST /api/v1/generate", RateLimitMiddleware(generateLimiter, s.handleGenerate))

	// Live feeds.
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)
	mux.HandleFunc("GET /api/v1/ws", s.handleWS)

	// Admin endpoints (require bearer token).
	mux.HandleFunc("POST /api/v1/snapshot", s.adminOnly(s.handleSnapshot))
	mux.HandleFunc("POST /api/v1/reset", s.adminOnly(s.handleReset))
	mux.HandleFunc("GET /api/v1/speed", s.handleSpeed)
	mux.HandleFunc("POST /api/v1/speed", s.adminOnly(s.handleSpeed))

	return corsMiddleware(s.Origins, mux)
}

// Start begins serving the HTTP API in a goroutine. The returned server is
// for Shutdown.
func (s *Server) Start() *http.Server {
	addr := fmt.Sprintf(":%d", s.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP API starting", "addr", addr, "admin_auth", s.AdminKey != "")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()
	return srv
}

// corsMiddleware adds CORS headers for allowed frontend origins.
// Localhost dev servers are always allowed.
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	allowedOrigins := map[string]bool{
		"http://localhost:5173": true,
		"http://localhost:4173": true,
		"http://localhost:3000": true,
	}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin != "" {
			allowedOrigins[origin] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBearerToken returns true if the request has a valid admin bearer token.
func (s *Server) checkBearerToken(r *http.Request) bool {
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.AdminKey
}

// adminOnly wraps a handler to require bearer token auth.
func (s *Server) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.AdminKey == "" {
			http.Error(w, "admin endpoints disabled (no TILECITY_ADMIN_KEY set)", http.StatusForbidden)
			return
		}
		if !s.checkBearerToken(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// errorStatus maps coordinator errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, placement.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, grid.ErrInvalidPlacement), errors.Is(err, placement.ErrNothingPlaced):
		return http.StatusConflict
	case errors.Is(err, grid.ErrContradiction):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSONStatus(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(data)
}
