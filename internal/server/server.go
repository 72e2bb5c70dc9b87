// Package server exposes the conversation engine over a small local JSON
// API. It is an operator surface, not a public gateway: no auth, bind to
// loopback by default.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/normanking/convoke/internal/conversation"
	"github.com/normanking/convoke/internal/llm"
	"github.com/normanking/convoke/internal/session"
)

// Server wires the HTTP handlers to the conversation manager.
type Server struct {
	manager *conversation.Manager
	store   session.Store
	metrics []*llm.MetricsProvider

	httpSrv *http.Server
}

// New creates a server listening on addr.
func New(addr string, manager *conversation.Manager, store session.Store, metrics []*llm.MetricsProvider) *Server {
	s := &Server{
		manager: manager,
		store:   store,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("GET /api/metrics/llm", s.handleMetrics)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("api server listening")
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// ChatRequest is the JSON body for POST /api/chat.
type ChatRequest struct {
	GuildID   string `json:"guild_id"`
	ChannelID string `json:"channel_id"`
	UserID    string `json:"user_id"`
	Text      string `json:"text"`
}

// ChatResponse is the JSON reply for POST /api/chat.
type ChatResponse struct {
	Reply   string `json:"reply,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.Text == "" || req.UserID == "" {
		http.Error(w, "text and user_id are required", http.StatusBadRequest)
		return
	}

	scope := session.Scope{GuildID: req.GuildID, ChannelID: req.ChannelID, UserID: req.UserID}
	reply, skipped, err := s.manager.HandleMessage(r.Context(), scope, req.UserID, req.Text)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case skipped:
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(ChatResponse{Skipped: true})
	case err != nil:
		// Raw backend error text stays in the logs.
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(ChatResponse{Error: conversation.FailureReply})
	default:
		json.NewEncoder(w).Encode(ChatResponse{Reply: reply})
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	scope, err := session.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		http.Error(w, "invalid scope, expected guild:channel:user", http.StatusBadRequest)
		return
	}

	sessions, err := s.store.ListSessions(r.Context(), scope)
	if err != nil {
		http.Error(w, "failed to list sessions", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessions)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.manager.DeleteSession(r.Context(), id)
	switch {
	case errors.Is(err, session.ErrNoSession):
		http.Error(w, "session not found", http.StatusNotFound)
	case errors.Is(err, session.ErrLastSession):
		http.Error(w, "cannot delete the scope's only session", http.StatusConflict)
	case err != nil:
		http.Error(w, "failed to delete session", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// MetricsResponse is the JSON response for the metrics endpoint.
type MetricsResponse struct {
	Timestamp string                       `json:"timestamp"`
	Providers map[string]llm.UsageSnapshot `json:"providers"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]llm.UsageSnapshot, len(s.metrics))
	for _, m := range s.metrics {
		providers[m.Name()] = m.Snapshot()
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	json.NewEncoder(w).Encode(MetricsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Providers: providers,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
