// Package api exposes the HTTP surface: webhook ingestion, the read API,
// admin operations, health, metrics and the live WebSocket feed.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/report"
	"github.com/soarkit/backend/internal/store"
)

// Server routes HTTP requests. It implements http.Handler.
type Server struct {
	router  *mux.Router
	store   store.Store
	tasks   queue.Enqueuer
	metrics *metrics.API
	reports *report.Builder
	live    http.Handler

	webhookKey string
	adminKey   string

	logger *slog.Logger
	now    func() time.Time
}

// Config carries the server dependencies. Live may be nil to disable the
// WebSocket feed.
type Config struct {
	Store      store.Store
	Tasks      queue.Enqueuer
	Metrics    *metrics.API
	Reports    *report.Builder
	Live       http.Handler
	WebhookKey string
	AdminKey   string
	Logger     *slog.Logger
}

// NewServer builds the router and wires all endpoints.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		router:     mux.NewRouter(),
		store:      cfg.Store,
		tasks:      cfg.Tasks,
		metrics:    cfg.Metrics,
		reports:    cfg.Reports,
		live:       cfg.Live,
		webhookKey: cfg.WebhookKey,
		adminKey:   cfg.AdminKey,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.corsMiddleware, s.latencyMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if s.live != nil {
		r.Handle("/ws", s.live)
	}

	wh := r.PathPrefix("/webhook").Subrouter()
	wh.Use(s.requireKey("X-API-Key", func() string { return s.webhookKey }, "Invalid webhook API key"))
	wh.HandleFunc("/email", s.handleWebhook("email")).Methods(http.MethodPost)
	wh.HandleFunc("/auth", s.handleWebhook("auth")).Methods(http.MethodPost)
	wh.HandleFunc("/network", s.handleWebhook("network")).Methods(http.MethodPost)

	r.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	r.HandleFunc("/cases", s.handleListCases).Methods(http.MethodGet)
	r.HandleFunc("/cases/{id}", s.handleGetCase).Methods(http.MethodGet)
	r.HandleFunc("/tickets/{id}", s.handleGetTicket).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)

	admin := r.NewRoute().Subrouter()
	admin.Use(s.requireKey("X-Admin-Key", func() string { return s.adminKey }, "Invalid admin key"))
	admin.HandleFunc("/cases/{id}/actions/{action_type}", s.handleTriggerAction).Methods(http.MethodPost)
	admin.HandleFunc("/cases/{id}/close", s.handleCloseCase).Methods(http.MethodPost)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
