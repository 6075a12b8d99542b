package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/bryanchriswhite/SilentShot/internal/config"
	"github.com/bryanchriswhite/SilentShot/internal/convert"
	"github.com/bryanchriswhite/SilentShot/internal/logger"
	"github.com/bryanchriswhite/SilentShot/internal/notify"
	"github.com/bryanchriswhite/SilentShot/internal/scheduler"
	"github.com/bryanchriswhite/SilentShot/internal/window"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version reported by /api/health.
const Version = "0.1.0"

// ConfigStore is the part of config.Manager the API uses.
type ConfigStore interface {
	Get() *config.Config
	SetDestination(path string) error
}

// SchedulerStats reports capture loop counters.
type SchedulerStats interface {
	Stats() scheduler.Stats
}

// PipelineStats reports conversion counters.
type PipelineStats interface {
	Stats() convert.Stats
}

// Deps are the collaborators of the API server. Scheduler, Pipeline and
// Tracker may be nil.
type Deps struct {
	Config    ConfigStore
	Hub       *notify.Hub
	Scheduler SchedulerStats
	Pipeline  PipelineStats
	Tracker   window.Tracker
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	deps     Deps
	upgrader websocket.Upgrader
	http     *http.Server
	started  time.Time
}

// NewServer creates a new API server
func NewServer(deps Deps) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		deps:    deps,
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return loopbackOrigin(r.Header.Get("Origin"))
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/stats", s.handleStats).Methods("GET")

	// Captures
	api.HandleFunc("/captures", s.handleRecentCaptures).Methods("GET")
	api.HandleFunc("/captures/stream", s.handleCaptureStream)

	// Configuration
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/destination", s.handleSetDestination).Methods("PUT")

	// Window state
	api.HandleFunc("/window/current", s.handleGetCurrentWindow).Methods("GET")
}

// Handler returns the routed handler with CORS applied.
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until Shutdown is called.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.WithComponent("api").Info().
		Str("addr", "http://"+addr).
		Msg("Starting API server")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server started by Start.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// loopbackOrigin reports whether a browser Origin header names a page
// served from this machine. Requests without an Origin are not from a
// browser page and are allowed.
func loopbackOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	switch host := u.Hostname(); host {
	case "localhost":
		return true
	default:
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	}
}

// enableCORS rejects cross-origin requests from non-loopback pages and
// adds CORS headers for the rest.
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !loopbackOrigin(origin) {
			logger.WithComponent("api").Warn().
				Str("origin", origin).
				Str("path", r.URL.Path).
				Msg("Rejected request from foreign origin")
			writeError(w, http.StatusForbidden, errors.New("origin not allowed"))
			return
		}

		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := struct {
		Capture    *scheduler.Stats `json:"capture,omitempty"`
		Conversion *convert.Stats   `json:"conversion,omitempty"`
	}{}
	if s.deps.Scheduler != nil {
		st := s.deps.Scheduler.Stats()
		resp.Capture = &st
	}
	if s.deps.Pipeline != nil {
		st := s.deps.Pipeline.Stats()
		resp.Conversion = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecentCaptures(w http.ResponseWriter, r *http.Request) {
	events := []notify.Event{}
	if s.deps.Hub != nil {
		events = append(events, s.deps.Hub.Recent()...)
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCaptureStream(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")
	if s.deps.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("capture stream not available"))
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	updates := s.deps.Hub.Subscribe()
	defer s.deps.Hub.Unsubscribe(updates)

	// Reads only detect the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case ev, ok := <-updates:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		}
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Config.Get())
}

func (s *Server) handleSetDestination(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Destination string `json:"destination"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Destination == "" {
		writeError(w, http.StatusBadRequest, errors.New("destination is required"))
		return
	}

	if err := s.deps.Config.SetDestination(req.Destination); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "success",
		"destination": s.deps.Config.Get().Output.Destination,
	})
}

func (s *Server) handleGetCurrentWindow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Tracker == nil {
		writeError(w, http.StatusNotFound, errors.New("no window tracker"))
		return
	}
	info, err := s.deps.Tracker.ActiveWindow()
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
