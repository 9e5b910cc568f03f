package web

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"fuelwatcher/internal/scheduler"
	"fuelwatcher/internal/storage"
)

// Server serves /healthz, /status, and /metrics.
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// StatusResponse is the /status payload.
type StatusResponse struct {
	Status           string         `json:"status"`
	UptimeSeconds    int64          `json:"uptime_seconds"`
	SchedulerRunning bool           `json:"scheduler_running"`
	LastPassAt       *time.Time     `json:"last_pass_at,omitempty"`
	NextPassAt       *time.Time     `json:"next_pass_at,omitempty"`
	Database         DatabaseStatus `json:"database"`
}

// DatabaseStatus reports store connectivity.
type DatabaseStatus struct {
	Connected         bool  `json:"connected"`
	TotalPointsStored int64 `json:"total_points_stored"`
}

// NewServer creates the HTTP server.
func NewServer(addr string, sched *scheduler.Scheduler, store *storage.Store, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", newStatusHandler(sched, store))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With().Str("component", "web").Logger(),
	}
}

// Start starts the HTTP server and blocks until shutdown.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting status server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down status server")
	return s.server.Shutdown(ctx)
}

type statusHandler struct {
	sched     *scheduler.Scheduler
	store     *storage.Store
	startTime time.Time
}

func newStatusHandler(sched *scheduler.Scheduler, store *storage.Store) *statusHandler {
	return &statusHandler{sched: sched, store: store, startTime: time.Now()}
}

func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{
		Status:        "healthy",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}

	if h.sched != nil {
		response.SchedulerRunning = h.sched.IsRunning()
		response.LastPassAt = h.sched.LastPassAt()
		next := h.sched.NextPassAt()
		if !next.IsZero() {
			response.NextPassAt = &next
		}
	}

	response.Database = h.databaseStatus(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *statusHandler) databaseStatus(ctx context.Context) DatabaseStatus {
	status := DatabaseStatus{}
	if h.store == nil {
		return status
	}

	count, err := h.store.CountPoints(ctx)
	if err != nil {
		return status
	}
	status.Connected = true
	status.TotalPointsStored = count
	return status
}
