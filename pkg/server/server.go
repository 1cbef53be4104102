// Copyright 2025 Origin Notes Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the agent over HTTP: the SSE chat endpoint,
// session administration over the checkpoint store, health, and
// Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/origin-notes/origin-agent/pkg/checkpoint"
	"github.com/origin-notes/origin-agent/pkg/config"
	"github.com/origin-notes/origin-agent/pkg/graph"
	"github.com/origin-notes/origin-agent/pkg/llms"
	"github.com/origin-notes/origin-agent/pkg/protocol"
	"github.com/origin-notes/origin-agent/pkg/supervisor"
)

// Server is the HTTP front of the agent service.
type Server struct {
	cfg    *config.Config
	sup    *supervisor.Supervisor
	holder *graph.Holder
	http   *http.Server
}

func New(cfg *config.Config, sup *supervisor.Supervisor, holder *graph.Holder, gatherer prometheus.Gatherer) *Server {
	s := &Server{cfg: cfg, sup: sup, holder: holder}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat/stream", s.handleChatStream)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}/messages", s.handleSessionMessages)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	})

	s.http = &http.Server{
		Addr:              cfg.Server.ListenAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	slog.Info("HTTP server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ----------------------------------------------------------------------------
// Chat streaming
// ----------------------------------------------------------------------------

// chatRequest is the wire shape of one chat turn. Field names predate
// this service and must stay stable for deployed clients.
type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`

	NoteContext      string `json:"note_context,omitempty"`
	SelectedText     string `json:"selected_text,omitempty"`
	ActiveNoteID     string `json:"active_note_id,omitempty"`
	ActiveNoteTitle  string `json:"active_note_title,omitempty"`
	ContextNoteID    string `json:"context_note_id,omitempty"`
	ContextNoteTitle string `json:"context_note_title,omitempty"`

	UseKnowledge     bool   `json:"use_knowledge,omitempty"`
	AutoAcceptWrites *bool  `json:"auto_accept_writes,omitempty"`
	AgentMode        string `json:"agent_mode,omitempty"`

	Attachments []supervisor.Attachment `json:"attachments,omitempty"`

	// Resume carries an approval decision: bool, string, or an object
	// {action, approval_id, args}.
	Resume any `json:"resume,omitempty"`

	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body: " + err.Error()})
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sink := func(line []byte) {
		fmt.Fprintf(w, "data: %s\n\n", line)
		flusher.Flush()
	}

	turn := &supervisor.TurnRequest{
		ThreadID:         req.SessionID,
		Message:          req.Message,
		Attachments:      req.Attachments,
		ActiveNoteID:     req.ActiveNoteID,
		ActiveNoteTitle:  req.ActiveNoteTitle,
		ContextNoteID:    req.ContextNoteID,
		ContextNoteTitle: req.ContextNoteTitle,
		NoteContext:      req.NoteContext,
		SelectedText:     req.SelectedText,
		UseKnowledge:     req.UseKnowledge,
		AutoAcceptWrites: req.AutoAcceptWrites,
		AgentMode:        req.AgentMode,
		Resume:           req.Resume,
	}
	if req.Provider != "" || req.Model != "" {
		turn.Override = &llms.Override{Provider: req.Provider, Model: req.Model}
	}

	slog.Info("Chat turn started", "session_id", req.SessionID, "resume", req.Resume != nil)
	s.sup.HandleTurn(r.Context(), turn, sink)

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// ----------------------------------------------------------------------------
// Session administration
// ----------------------------------------------------------------------------

type sessionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) store() (*checkpoint.Store, error) {
	engine, err := s.holder.Get()
	if err != nil {
		return nil, err
	}
	return engine.Store(), nil
}

// sessionMessages decodes the displayable message log of a thread:
// user text and assistant replies, minus tool plumbing and internal
// status markers.
func (s *Server) sessionMessages(ctx context.Context, threadID string) ([]sessionMessage, error) {
	engine, err := s.holder.Get()
	if err != nil {
		return nil, err
	}
	state, err := engine.LoadState(ctx, threadID)
	if err != nil {
		return nil, err
	}

	var out []sessionMessage
	for _, msg := range state.Messages {
		if msg.Status || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case protocol.RoleUser:
			out = append(out, sessionMessage{Role: "user", Content: msg.Content})
		case protocol.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				continue
			}
			out = append(out, sessionMessage{Role: "assistant", Content: msg.Content})
		}
	}
	return out, nil
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	store, err := s.store()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	threads, err := store.ListThreads(r.Context(), 50)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	sessions := []map[string]any{}
	for _, t := range threads {
		messages, err := s.sessionMessages(r.Context(), t.ThreadID)
		if err != nil || len(messages) == 0 {
			continue
		}
		preview := "New conversation"
		for _, m := range messages {
			if m.Role == "user" {
				preview = truncatePreview(m.Content, 60)
				break
			}
		}
		sessions = append(sessions, map[string]any{
			"id":            t.ThreadID,
			"preview":       preview,
			"message_count": len(messages),
			"updated_at":    t.LatestCheckpoint,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	messages, err := s.sessionMessages(r.Context(), sessionID)
	if err != nil || len(messages) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Session not found or empty"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": sessionID, "messages": messages})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	store, err := s.store()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if err := store.Clear(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "deleted": sessionID})
}

func truncatePreview(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
