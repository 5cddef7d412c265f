// Package httpapi serves the bot's operations endpoints: health, metrics and
// read-only views of voice sessions and background jobs.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"unmute-bot/internal/metrics"
	"unmute-bot/internal/voice"
	"unmute-bot/pkg/jobmgr"
)

type Sessions interface {
	Sessions() []voice.Session
}

type Server struct {
	sessions Sessions
	jobs     *jobmgr.Manager
	metrics  *metrics.Metrics
	started  time.Time
}

func New(sessions Sessions, jobs *jobmgr.Manager, m *metrics.Metrics) *Server {
	return &Server{sessions: sessions, jobs: jobs, metrics: m, started: time.Now()}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/sessions", s.handleSessions)
	r.Get("/v1/sessions/{guildID}", s.handleSession)
	r.Get("/v1/jobs", s.handleJobs)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[INFO] Ops HTTP server listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime_s": int(time.Since(s.started).Seconds()),
		"sessions": len(s.sessions.Sessions()),
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.Sessions()})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "guildID")
	for _, sess := range s.sessions.Sessions() {
		if sess.GuildID == id {
			respondJSON(w, http.StatusOK, sess)
			return
		}
	}
	respondError(w, http.StatusNotFound, "not_found", "no voice session for guild "+id)
}

type jobView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartedAt time.Time `json:"started_at"`
}

func (s *Server) handleJobs(w http.ResponseWriter, _ *http.Request) {
	out := []jobView{}
	if s.jobs != nil {
		for _, j := range s.jobs.Jobs() {
			out = append(out, jobView{ID: j.ID, Name: j.Name, StartedAt: j.StartedAt})
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
