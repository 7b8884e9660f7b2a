package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/repository"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by the router middleware
	},
}

// Handler upgrades clients onto the session event stream.
type Handler struct {
	hub      *Hub
	engine   *engine.Engine
	sessions repository.SessionRepo
}

func NewHandler(hub *Hub, eng *engine.Engine, sessions repository.SessionRepo) *Handler {
	return &Handler{hub: hub, engine: eng, sessions: sessions}
}

// ServeWS handles GET /v1/ws/sessions/{id}. Session existence is
// checked before the upgrade; identity arrives either as a token query
// parameter or in the first session-join message.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	session, err := h.sessions.GetByID(r.Context(), sessionID)
	if err != nil {
		http.Error(w, `{"error":"temporary failure"}`, http.StatusServiceUnavailable)
		return
	}
	if session == nil || session.Status == model.SessionEnded {
		http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &engine.Client{
		ConnID:      uuid.NewString(),
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
	}
	conn := &Connection{
		Client: client,
		Send:   make(chan []byte, 256),
	}

	ctx := context.Background()
	if err := h.hub.Register(ctx, conn); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to subscribe session channel")
		wsConn.Close()
		return
	}
	log.Info().Str("conn_id", client.ConnID).Str("session_id", sessionID).Msg("websocket connected")

	go h.writePump(wsConn, conn)

	// A token presented at the handshake is an immediate reconnect: the
	// client gets its snapshot without waiting for a first message.
	if token := r.URL.Query().Get("token"); token != "" {
		h.dispatchJoin(ctx, client, token)
	}

	go h.readPump(ctx, wsConn, conn)
}

func (h *Handler) dispatchJoin(ctx context.Context, client *engine.Client, token string) {
	payload, _ := json.Marshal(engine.JoinPayload{Token: token})
	msg, _ := json.Marshal(engine.Message{Kind: engine.ActionSessionJoin, Payload: payload})
	h.engine.HandleMessage(ctx, client, msg)
}

func (h *Handler) readPump(ctx context.Context, wsConn *websocket.Conn, conn *Connection) {
	defer func() {
		h.hub.Unregister(conn)
		h.engine.Disconnect(ctx, conn.Client)
		wsConn.Close()
		log.Info().Str("conn_id", conn.Client.ConnID).Msg("websocket disconnected")
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("conn_id", conn.Client.ConnID).Msg("websocket read error")
			}
			break
		}
		h.engine.HandleMessage(ctx, conn.Client, raw)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wsConn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
