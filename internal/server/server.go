// Package server exposes the conversation engine over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/apexion-ai/threadline/internal/agent"
	"github.com/apexion-ai/threadline/internal/conversation"
)

// Engine runs turns and exposes stored history.
type Engine interface {
	Chat(ctx context.Context, conversationID, userText string) (agent.Result, error)
	History(conversationID string) ([]conversation.Record, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr         string
	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
	Logger       *slog.Logger
}

// Server wraps the router and the underlying http.Server.
type Server struct {
	engine Engine
	logger *slog.Logger
	http   *http.Server
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	UserText       string `json:"user_text"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ConversationResponse is the body of GET /v1/conversations/{id}.
type ConversationResponse struct {
	ConversationID string                `json:"conversation_id"`
	Records        []conversation.Record `json:"records"`
}

// New builds the server and its routes.
func New(engine Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: engine, logger: logger.With("component", "http")}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.routes(opts),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) routes(opts Options) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(accessLog(s.logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimit, opts.RateBurst))
		r.Use(limitBody(opts.MaxBodyBytes))

		r.Post("/v1/chat", s.handleChat)
		r.Post("/chat", s.handleChat)
		r.Get("/v1/conversations/{id}", s.handleConversation)
	})
	return r
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.logger.Info("shutting down")
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			errorWithCode(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		errorWithCode(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.UserText) == "" {
		errorWithCode(w, http.StatusBadRequest, "user_text must not be empty")
		return
	}

	res, err := s.engine.Chat(r.Context(), req.ConversationID, req.UserText)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyInput):
		errorWithCode(w, http.StatusBadRequest, "user_text must not be empty")
	case errors.Is(err, conversation.ErrInvalidID):
		errorWithCode(w, http.StatusBadRequest, "invalid conversation_id")
	case errors.Is(err, agent.ErrCompletion):
		errorWithCode(w, http.StatusBadGateway, "completion failed")
	default:
		s.logger.Error("turn failed", "error", err, "request_id", chimw.GetReqID(r.Context()))
		errorWithCode(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !conversation.ValidID(id) {
		errorWithCode(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	records, err := s.engine.History(id)
	if err != nil {
		s.logger.Error("load conversation", "conversation_id", id, "error", err)
		errorWithCode(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(records) == 0 {
		errorWithCode(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, ConversationResponse{ConversationID: id, Records: records})
}
