package ipc

import (
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ibdm-lab/isu-engine/internal/domain"
)

// Websocket message types.
const (
	MsgTurn  = "turn"
	MsgReply = "reply"
	MsgPing  = "ping"
	MsgPong  = "pong"
	MsgError = "error"
)

// WSMessage is a frame on the session websocket. Clients send turn and ping
// frames; the server answers with reply, pong or error frames.
type WSMessage struct {
	Type      string        `json:"type"`
	Utterance string        `json:"utterance,omitempty"`
	Reply     *TurnResponse `json:"reply,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Same policy as the CORS middleware.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS handles GET /api/v1/session/{id}/ws. Each turn frame runs one
// dialogue turn; the connection stays open until the client closes it.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Sessions.Get(r.Context(), id); err != nil {
		h.writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger().Warn("websocket upgrade failed", zap.String("session_id", id), zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger().Debug("websocket read ended", zap.String("session_id", id), zap.Error(err))
			}
			return
		}

		var resp WSMessage
		switch msg.Type {
		case MsgPing:
			resp = WSMessage{Type: MsgPong}
		case MsgTurn:
			out, err := h.Sessions.Turn(r.Context(), id, msg.Utterance)
			if err != nil {
				resp = WSMessage{Type: MsgError, Error: apiError(err)}
				break
			}
			reply := newTurnResponse(out)
			resp = WSMessage{Type: MsgReply, Reply: &reply}
		default:
			resp = WSMessage{Type: MsgError, Error: &APIError{Code: 400, Message: "unknown message type: " + msg.Type}}
		}

		if err := conn.WriteJSON(resp); err != nil {
			h.logger().Debug("websocket write failed", zap.String("session_id", id), zap.Error(err))
			return
		}
	}
}

func apiError(err error) *APIError {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		return &APIError{Code: engErr.Code, Message: engErr.Message}
	}
	return &APIError{Code: -1, Message: err.Error()}
}
