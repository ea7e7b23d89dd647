package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/replyclock/internal/store"
)

// RunReader is the read side of the run history. *store.Store implements it.
type RunReader interface {
	LatestRun(ctx context.Context) (*store.Run, error)
}

type Server struct {
	router *chi.Mux
	port   int
	runs   RunReader
	logger *slog.Logger
}

// NewServer builds the read-only API. runs may be nil when no database is
// configured; report routes then answer 503. A non-empty apiToken protects
// the report routes with bearer authentication.
func NewServer(port int, apiToken string, runs RunReader, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router: router,
		port:   port,
		runs:   runs,
		logger: logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/replyclock/status", s.status)
	router.Route("/api/v1/reports", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/latest", s.latestReport)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// BearerAuthMiddleware rejects requests without the expected token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	history := "disabled"
	if s.runs != nil {
		history = "postgres"
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "replyclock",
		"status":  "ok",
		"history": history,
	})
}

func (s *Server) latestReport(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "run history not configured"})
		return
	}

	run, err := s.runs.LatestRun(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no reports yet"})
		return
	}
	if err != nil {
		s.logger.Error("failed to load latest run", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
