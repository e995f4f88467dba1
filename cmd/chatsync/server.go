package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/metrics"
	"chatsync/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// debugServer exposes local-only introspection endpoints: health,
// metrics, and per-conversation state. It binds to loopback and is
// never meant to face a network.
type debugServer struct {
	engine *service.Engine
	logger *logrus.Logger
	server *http.Server
}

func newDebugServer(port int, engine *service.Engine, logger *logrus.Logger) *debugServer {
	s := &debugServer{engine: engine, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	r.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}", s.handleConversation).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", port),
		Handler:      r,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}
	return s
}

func (s *debugServer) serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			constants.DefaultGracefulShutdownSec*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.WithError(err).Warn("Debug server shutdown error")
		}
	}()

	s.logger.WithField("addr", s.server.Addr).Info("Debug server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.WithError(err).Error("Debug server failed")
	}
}

func (s *debugServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"connection": s.engine.ConnectionState().String(),
		"version":    Version,
	})
}

func (s *debugServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, metrics.Default.Snapshot())
}

func (s *debugServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	type convSummary struct {
		ID           string   `json:"id"`
		Messages     int      `json:"messages"`
		LastSyncAt   string   `json:"lastSyncAt,omitempty"`
		ActiveTypers []string `json:"activeTypers,omitempty"`
	}
	var out []convSummary
	for _, conv := range s.engine.Conversations() {
		summary := convSummary{
			ID:           conv.ID(),
			Messages:     conv.MessageCount(),
			ActiveTypers: conv.Presence().ActiveTypers(),
		}
		if at := conv.LastSyncAt(); !at.IsZero() {
			summary.LastSyncAt = at.UTC().Format(time.RFC3339)
		}
		out = append(out, summary)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *debugServer) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	conv, ok := s.engine.Lookup(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not open"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":       conv.ID(),
		"messages": conv.Rendered(),
		"hidden":   conv.Tombstones().HiddenCount(),
		"typers":   conv.Presence().ActiveEntries(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
