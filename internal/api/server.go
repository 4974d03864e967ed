// Package api implements the HTTP API: authenticated chat turns,
// conversation history, and tool catalog introspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/taskherd/taskherd/internal/agent"
	"github.com/taskherd/taskherd/internal/buildinfo"
	"github.com/taskherd/taskherd/internal/catalog"
	"github.com/taskherd/taskherd/internal/connwatch"
	"github.com/taskherd/taskherd/internal/convo"
	"github.com/taskherd/taskherd/internal/identity"
	"github.com/taskherd/taskherd/internal/llm"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Server is the HTTP API server.
type Server struct {
	address       string
	port          int
	loop          *agent.Loop
	conversations *convo.Store
	catalog       *catalog.Catalog
	auth          identity.Authenticator
	llm           llm.Client
	logger        *slog.Logger
	server        *http.Server
	statusFn      func() map[string]connwatch.ServiceStatus
}

// NewServer creates an API server.
func NewServer(address string, port int, loop *agent.Loop, conversations *convo.Store, cat *catalog.Catalog, auth identity.Authenticator, client llm.Client, logger *slog.Logger) *Server {
	return &Server{
		address:       address,
		port:          port,
		loop:          loop,
		conversations: conversations,
		catalog:       cat,
		auth:          auth,
		llm:           client,
		logger:        logger,
	}
}

// SetStatusSource provides watched-service health for the health
// endpoint, usually connwatch's Manager.Status.
func (s *Server) SetStatusSource(fn func() map[string]connwatch.ServiceStatus) {
	s.statusFn = fn
}

// Handler builds the route table. Exposed separately from Start so
// tests can drive it through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Chat endpoints
	mux.HandleFunc("POST /v1/chat", s.withAuth(s.handleChat))
	mux.HandleFunc("GET /v1/chat/ws", s.withAuth(s.handleChatWS))
	mux.HandleFunc("GET /v1/chat/history", s.withAuth(s.handleHistory))

	// Tool introspection
	mux.HandleFunc("GET /v1/tools", s.withAuth(s.handleTools))
	mux.HandleFunc("GET /v1/tools/calls", s.withAuth(s.handleToolCalls))

	// Store introspection
	mux.HandleFunc("GET /v1/stats", s.withAuth(s.handleStats))

	// Unauthenticated service endpoints
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second, // long turns with several tool rounds
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

type contextKey string

const userIDKey contextKey = "userID"

// withAuth resolves the bearer token to a user id and stores it on the
// request context. Websocket clients cannot set headers from browsers,
// so an access_token query parameter is accepted as a fallback.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		userID, err := s.auth.Authenticate(token)
		if err != nil {
			s.errorResponse(w, http.StatusUnauthorized, "authentication_error", "invalid or missing token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	}
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("access_token")
}

func requestUser(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}

// ChatRequest is the body of POST /v1/chat.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid_request_error", "invalid request body")
		return
	}

	res, err := s.loop.Process(r.Context(), requestUser(r), req.ConversationID, req.Message, nil)
	if err != nil {
		s.turnError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, res, s.logger)
}

// turnError maps agent loop failures to HTTP statuses.
func (s *Server) turnError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		s.errorResponse(w, http.StatusBadRequest, "invalid_request_error", "message must not be empty")
	case errors.Is(err, agent.ErrConversationBusy):
		s.errorResponse(w, http.StatusConflict, "conversation_busy", "a turn is already running for this conversation")
	case errors.Is(err, agent.ErrNotConversationOwner):
		s.errorResponse(w, http.StatusNotFound, "not_found", "conversation not found")
	case errors.Is(err, agent.ErrModelTimeout):
		s.errorResponse(w, http.StatusServiceUnavailable, "model_timeout", "the model did not respond in time")
	default:
		s.logger.Error("turn failed", "error", err)
		s.errorResponse(w, http.StatusServiceUnavailable, "service_unavailable", "the assistant is unavailable right now")
	}
}

// HistoryResponse is the body of GET /v1/chat/history.
type HistoryResponse struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []convo.Message `json:"messages"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	conversationID, ok := s.resolveConversation(w, r, userID)
	if !ok {
		return
	}

	history, err := s.conversations.RecentHistory(r.Context(), conversationID, queryLimit(r, 40))
	if err != nil {
		s.logger.Error("load history failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", "failed to load history")
		return
	}
	if history == nil {
		history = []convo.Message{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, HistoryResponse{ConversationID: conversationID, Messages: history}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.catalog.Describe()}, s.logger)
}

// ToolCallsResponse is the body of GET /v1/tools/calls.
type ToolCallsResponse struct {
	ConversationID string                 `json:"conversation_id"`
	Calls          []convo.ToolCallRecord `json:"calls"`
}

func (s *Server) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	userID := requestUser(r)
	conversationID, ok := s.resolveConversation(w, r, userID)
	if !ok {
		return
	}

	calls, err := s.conversations.ToolCalls(r.Context(), conversationID, queryLimit(r, 50))
	if err != nil {
		s.logger.Error("load tool calls failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", "failed to load tool calls")
		return
	}
	if calls == nil {
		calls = []convo.ToolCallRecord{}
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ToolCallsResponse{ConversationID: conversationID, Calls: calls}, s.logger)
}

// handleStats reports store-wide counters. Counts are global, not
// per-user; they expose volume, never content.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": s.conversations.Stats()}, s.logger)
}

// resolveConversation applies the default conversation id and enforces
// ownership. A conversation owned by someone else reads as absent.
func (s *Server) resolveConversation(w http.ResponseWriter, r *http.Request, userID string) (string, bool) {
	conversationID := r.URL.Query().Get("conversation_id")
	if conversationID == "" {
		conversationID = userID
	}

	owner, err := s.conversations.Owner(r.Context(), conversationID)
	if err != nil {
		s.logger.Error("conversation owner lookup failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "internal_error", "failed to resolve conversation")
		return "", false
	}
	if owner != "" && owner != userID {
		s.errorResponse(w, http.StatusNotFound, "not_found", "conversation not found")
		return "", false
	}
	return conversationID, true
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "Taskherd",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	body := map[string]any{}

	if s.statusFn != nil {
		services := s.statusFn()
		for _, svc := range services {
			if !svc.Ready {
				status = "degraded"
			}
		}
		body["services"] = services
	} else if s.llm != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.llm.Ping(pingCtx); err != nil {
			status = "degraded"
		}
	}
	body["status"] = status

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, body, s.logger)
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	}, s.logger)
}
