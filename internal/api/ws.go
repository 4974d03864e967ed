package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/taskherd/taskherd/internal/agent"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Token auth already gates the endpoint; the origin check would
	// only block browser clients served from another host.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsError is the error frame sent over the websocket, mirroring the
// HTTP error envelope.
type wsError struct {
	Kind  string `json:"type"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func newWSError(errType, message string) wsError {
	var e wsError
	e.Kind = "error"
	e.Error.Message = message
	e.Error.Type = errType
	return e
}

// handleChatWS runs chat turns over a websocket, streaming tool-call
// progress events while each turn executes. The client sends the same
// JSON body as POST /v1/chat; one request frame yields a sequence of
// event frames ending in either a done or an error frame.
func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	userID := requestUser(r)
	s.logger.Info("websocket connected", "user", userID)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket closed", "user", userID, "error", err)
			}
			return
		}

		var req ChatRequest
		if err := json.Unmarshal(data, &req); err != nil {
			if err := conn.WriteJSON(newWSError("invalid_request_error", "invalid request frame")); err != nil {
				return
			}
			continue
		}

		// Events fire synchronously from the turn goroutine, so
		// writes here never interleave.
		_, err = s.loop.Process(r.Context(), userID, req.ConversationID, req.Message, func(ev agent.Event) {
			if werr := conn.WriteJSON(ev); werr != nil {
				s.logger.Debug("websocket write failed", "error", werr)
			}
		})
		if err != nil {
			if werr := conn.WriteJSON(wsTurnError(err)); werr != nil {
				return
			}
		}
	}
}

func wsTurnError(err error) wsError {
	switch {
	case errors.Is(err, agent.ErrEmptyMessage):
		return newWSError("invalid_request_error", "message must not be empty")
	case errors.Is(err, agent.ErrConversationBusy):
		return newWSError("conversation_busy", "a turn is already running for this conversation")
	case errors.Is(err, agent.ErrNotConversationOwner):
		return newWSError("not_found", "conversation not found")
	case errors.Is(err, agent.ErrModelTimeout):
		return newWSError("model_timeout", "the model did not respond in time")
	default:
		return newWSError("service_unavailable", "the assistant is unavailable right now")
	}
}
