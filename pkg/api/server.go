package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/magpielab/magpie/pkg/log"
	"github.com/magpielab/magpie/pkg/metrics"
	"github.com/magpielab/magpie/pkg/orchestrator"
	"github.com/magpielab/magpie/pkg/parser"
)

// Server exposes the HTTP surface: task submission, status reports, the
// platform catalog, health, and Prometheus metrics.
type Server struct {
	orch       *orchestrator.Orchestrator
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the API server bound to addr
func NewServer(orch *orchestrator.Orchestrator, addr string) *Server {
	s := &Server{
		orch:   orch,
		logger: log.WithComponent("api"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(s.requestLogger)

	r.Post("/submit", s.handleSubmit)
	r.Get("/status", s.handleStatus)
	r.Get("/databases", s.handleDatabases)
	r.Get("/healthz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	return r
}

// requestLogger logs each request and feeds the API request counter
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		metrics.APIRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// handleSubmit accepts the same JSON shapes as a task file and triggers
// an asynchronous collection pass for accepted submissions.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, 4<<20)
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	submission, err := s.orch.TaskManager().Submit(data)
	if err != nil {
		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		s.writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	go func() {
		if _, err := s.orch.Collect(context.Background()); err != nil {
			s.logger.Error().Err(err).Msg("collection pass after submit failed")
		}
	}()

	s.writeJSON(w, http.StatusAccepted, submission)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stores, err := s.orch.GeneralStatus(true)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"platforms": s.orch.Status(),
		"stores":    stores,
	})
}

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orch.Databases()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
