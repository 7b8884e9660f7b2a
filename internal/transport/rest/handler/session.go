package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/auth"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/engine"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/repository"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
)

// SessionHandler handles the session lifecycle endpoints. Everything
// that happens inside a running session goes over the WebSocket; these
// endpoints only create, inspect, join and end sessions.
type SessionHandler struct {
	sessions repository.SessionRepo
	players  repository.PlayerRepo
	state    *store.StateStore
	auth     *auth.Service
	engine   *engine.Engine
}

func NewSessionHandler(sessions repository.SessionRepo, players repository.PlayerRepo, state *store.StateStore, authSvc *auth.Service, eng *engine.Engine) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		players:  players,
		state:    state,
		auth:     authSvc,
		engine:   eng,
	}
}

// CreateSessionRequest is the request body for creating a session.
type CreateSessionRequest struct {
	Title      string   `json:"title"`
	Deck       string   `json:"deck,omitempty"`
	CustomDeck []string `json:"customDeck,omitempty"`
	HostName   string   `json:"hostName"`
	HostAvatar string   `json:"hostAvatar,omitempty"`
}

// Create handles POST /v1/sessions. The creator becomes the host and
// gets a token straight away; other participants join over REST or the
// WebSocket handshake.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	hostName := strings.TrimSpace(req.HostName)
	if hostName == "" {
		writeError(w, http.StatusBadRequest, "hostName is required")
		return
	}

	deck := req.CustomDeck
	if len(deck) == 0 {
		deck = model.DeckByName(req.Deck)
	}

	now := time.Now()
	host := &model.Player{
		ID:           uuid.NewString(),
		Name:         hostName,
		Avatar:       req.HostAvatar,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	session := &model.Session{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(req.Title),
		HostPlayerID: host.ID,
		Deck:         deck,
		Status:       model.SessionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	host.SessionID = session.ID

	if err := h.sessions.Create(r.Context(), session); err != nil {
		log.Error().Err(err).Msg("failed to create session")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if err := h.players.Create(r.Context(), host); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to create host player")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	token, err := h.auth.IssueToken(session.ID, host.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	log.Info().Str("session_id", session.ID).Str("host_id", host.ID).Msg("session created")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session": session,
		"player":  host,
		"token":   token,
	})
}

// Get handles GET /v1/sessions/{id}.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	if session == nil {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	state, err := h.state.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session": session,
		"players": state.Players,
	})
}

// JoinRequest is the request body for joining a session.
type JoinRequest struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Spectator bool   `json:"spectator,omitempty"`
}

// Join handles POST /v1/sessions/{id}/join. It creates the player
// record and issues a token; the player enters the live session when
// they connect the WebSocket with that token.
func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req JoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	session, err := h.sessions.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	if session == nil || session.Status == model.SessionEnded {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	state, err := h.state.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	for _, pv := range state.Players {
		if strings.EqualFold(pv.Name, name) {
			writeError(w, http.StatusConflict, "display name already in use")
			return
		}
	}

	now := time.Now()
	player := &model.Player{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Name:         name,
		Avatar:       req.Avatar,
		Spectator:    req.Spectator,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	if err := h.players.Create(r.Context(), player); err != nil {
		log.Error().Err(err).Str("session_id", session.ID).Msg("failed to create player")
		writeError(w, http.StatusInternalServerError, "failed to join session")
		return
	}

	token, err := h.auth.IssueToken(session.ID, player.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue token")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"player": player,
		"token":  token,
	})
}

// End handles DELETE /v1/sessions/{id}. Host only, authenticated with
// the bearer token issued at creation.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	claims, err := h.auth.ValidateToken(bearerToken(r))
	if err != nil || claims.SessionID != id {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	if err := h.engine.EndSession(r.Context(), id, claims.PlayerID); err != nil {
		var policyErr *engine.Error
		if errors.As(err, &policyErr) {
			switch policyErr.Code {
			case engine.CodeNotFound:
				writeError(w, http.StatusNotFound, policyErr.Message)
			case engine.CodeNotHost:
				writeError(w, http.StatusForbidden, policyErr.Message)
			default:
				writeError(w, http.StatusBadRequest, policyErr.Message)
			}
			return
		}
		log.Error().Err(err).Str("session_id", id).Msg("failed to end session")
		writeError(w, http.StatusInternalServerError, "temporary failure")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.SessionEnded)})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
