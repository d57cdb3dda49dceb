package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"tokenTracer/internal/history"
	"tokenTracer/internal/model"
	"tokenTracer/internal/tracer"
)

// Session is the read side of an engine exposed over HTTP.
type Session interface {
	Events() []model.DecodedEvent
	DisplayEvents() []model.DecodedEvent
	TailState() tracer.TailState
	Timeline(ctx context.Context) (history.Timeline, error)
}

// Server serves read-only snapshots of a session.
type Server struct {
	session Session
	logger  *zap.Logger
	router  *chi.Mux
	server  *http.Server
}

func NewServer(addr string, session Session, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		session: session,
		logger:  logger.With(zap.String("component", "api")),
		router:  chi.NewRouter(),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/events", s.handleEvents)
	s.router.Get("/history/{source}", s.handleHistory)
	s.router.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router returns the underlying router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

type healthResponse struct {
	Status    string `json:"status"`
	Tail      string `json:"tail"`
	Events    int    `json:"events"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		Tail:      s.session.TailState().String(),
		Events:    len(s.session.Events()),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

type eventsResponse struct {
	Order  string               `json:"order"`
	Total  int                  `json:"total"`
	Events []model.DecodedEvent `json:"events"`
}

// handleEvents returns events most recent first, or in canonical order with ?order=canonical.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	order := r.URL.Query().Get("order")
	var events []model.DecodedEvent
	switch order {
	case "", "recent":
		order = "recent"
		events = s.session.DisplayEvents()
	case "canonical":
		events = s.session.Events()
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown order %q", order))
		return
	}
	total := len(events)

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(events) {
			events = events[:limit]
		}
	}
	if events == nil {
		events = []model.DecodedEvent{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Order: order, Total: total, Events: events})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	source, ok := model.ParseSource(chi.URLParam(r, "source"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown history source")
		return
	}
	timeline, err := s.session.Timeline(r.Context())
	if err != nil {
		s.logger.Warn("load history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	records := timeline.View(source)
	if records == nil {
		records = []model.TransferRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
