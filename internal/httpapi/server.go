// Package httpapi exposes the conversation manager over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/genieq/internal/conversation"
	"github.com/comigor/genieq/internal/history"
	"github.com/comigor/genieq/internal/logger"
	"github.com/comigor/genieq/internal/report"
	"github.com/comigor/genieq/internal/session"
)

// Service is the part of conversation.Manager the API serves.
type Service interface {
	NewSession() string
	Ask(ctx context.Context, sessionID, message string) (report.Response, error)
	AskImmediate(ctx context.Context, sessionID, message string) (report.Response, error)
	History(ctx context.Context, sessionID string) ([]history.Message, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Sessions() []session.Info
	Stats() conversation.Stats
}

var _ Service = (*conversation.Manager)(nil)

// Server routes HTTP requests to a Service.
type Server struct {
	svc     Service
	metrics http.Handler
	logger  *slog.Logger
	router  chi.Router
}

// New builds the router. metrics may be nil, in which case /metrics is not mounted.
func New(svc Service, metrics http.Handler, log *slog.Logger) *Server {
	s := &Server{svc: svc, metrics: metrics, logger: logger.Or(log)}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Post("/", s.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Post("/messages", s.postMessage)
				r.Get("/history", s.history)
				r.Delete("/", s.deleteSession)
			})
		})
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully within grace.
func (s *Server) ListenAndServe(ctx context.Context, addr string, grace time.Duration) error {
	srv := &http.Server{Addr: addr, Handler: s, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "address", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), grace)
	defer cancel()
	s.logger.Info("stopping server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).String(),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

type messageRequest struct {
	Message string `json:"message"`
	// Immediate skips the queue; the request still waits its session turn.
	Immediate bool `json:"immediate,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	id := s.svc.NewSession()
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.svc.Sessions()})
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req messageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	ask := s.svc.Ask
	if req.Immediate {
		ask = s.svc.AskImmediate
	}
	resp, err := ask(r.Context(), sessionID, req.Message)
	if err != nil {
		status := StatusFor(err)
		s.logger.Warn("message failed", "session_id", sessionID, "status", status, "error", err)
		writeError(w, status, "message failed", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := s.svc.History(r.Context(), sessionID)
	if err != nil {
		writeError(w, StatusFor(err), "history unavailable", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": msgs})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.DeleteSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, StatusFor(err), "delete failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	writeJSON(w, status, map[string]string{"error": msg, "detail": err.Error()})
}
