package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
)

// Connection is one locally attached WebSocket client. The engine's
// Client carries the identity; Send feeds the write pump.
type Connection struct {
	Client *engine.Client
	Send   chan []byte

	closeOnce sync.Once
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

// Hub tracks local connections per session and re-emits the session's
// store pub/sub channel to them. Events published by any process reach
// every process's hub; each hub delivers only to its own sockets.
type Hub struct {
	adapter store.Adapter

	mu       sync.RWMutex
	sessions map[string]*sessionGroup
}

type sessionGroup struct {
	conns map[string]*Connection // conn id -> connection
	stop  func()                 // unsubscribe from the session channel
}

func NewHub(adapter store.Adapter) *Hub {
	return &Hub{
		adapter:  adapter,
		sessions: make(map[string]*sessionGroup),
	}
}

// Register attaches a connection, subscribing to the session's event
// channel on the first local connection.
func (h *Hub) Register(ctx context.Context, conn *Connection) error {
	sessionID := conn.Client.SessionID

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.sessions[sessionID]
	if !ok {
		stop, err := h.adapter.Subscribe(ctx, store.EventChannel(sessionID), func(payload []byte) {
			h.deliver(sessionID, payload)
		})
		if err != nil {
			return err
		}
		group = &sessionGroup{conns: make(map[string]*Connection), stop: stop}
		h.sessions[sessionID] = group
	}
	group.conns[conn.Client.ConnID] = conn
	log.Debug().Str("conn_id", conn.Client.ConnID).Str("session_id", sessionID).
		Int("local_connections", len(group.conns)).Msg("connection registered")
	return nil
}

// Unregister detaches a connection, dropping the channel subscription
// when the last local connection for the session goes away.
func (h *Hub) Unregister(conn *Connection) {
	sessionID := conn.Client.SessionID

	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if existing, ok := group.conns[conn.Client.ConnID]; ok && existing == conn {
		delete(group.conns, conn.Client.ConnID)
		conn.close()
	}
	if len(group.conns) == 0 {
		group.stop()
		delete(h.sessions, sessionID)
	}
}

// deliver routes one envelope from the session channel to local
// connections. Slow connections are skipped, never waited on.
func (h *Hub) deliver(sessionID string, payload []byte) {
	var env engine.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("dropping malformed envelope")
		return
	}

	h.mu.RLock()
	group, ok := h.sessions[sessionID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Connection, 0, len(group.conns))
	for _, conn := range group.conns {
		if env.TargetConnID != "" && conn.Client.ConnID != env.TargetConnID {
			continue
		}
		if env.TargetPlayerID != "" && conn.Client.PlayerID() != env.TargetPlayerID {
			continue
		}
		if env.ExcludeConnID != "" && conn.Client.ConnID == env.ExcludeConnID {
			continue
		}
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	for _, conn := range targets {
		select {
		case conn.Send <- payload:
		default:
			log.Warn().Str("conn_id", conn.Client.ConnID).Msg("send buffer full, dropping event")
		}
	}

	if env.CloseTarget {
		for _, conn := range targets {
			h.Unregister(conn)
		}
	}
	if env.Type == engine.EventSessionEnded {
		h.closeSession(sessionID)
	}
}

// closeSession drops every local connection for an ended session.
func (h *Hub) closeSession(sessionID string) {
	h.mu.Lock()
	group, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return
	}
	conns := make([]*Connection, 0, len(group.conns))
	for _, conn := range group.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.Unregister(conn)
	}
}

// LocalConnections reports the number of locally attached connections
// for a session.
func (h *Hub) LocalConnections(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if group, ok := h.sessions[sessionID]; ok {
		return len(group.conns)
	}
	return 0
}
