package engine

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

// handlePlayerUpdate lets a participant change their own display name
// or avatar. Renames are gated on the same uniqueness rule as joins.
func (e *Engine) handlePlayerUpdate(ctx context.Context, client *Client, raw json.RawMessage) error {
	if client.PlayerID() == "" {
		return reject(CodeBadRequest, "join the session first")
	}
	var p PlayerPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return reject(CodeBadRequest, "malformed player payload")
	}

	player, err := e.players.GetByID(ctx, client.PlayerID())
	if err != nil {
		return err
	}
	if player == nil {
		return reject(CodeNotFound, "player no longer exists")
	}
	session, err := e.sessions.GetByID(ctx, client.SessionID)
	if err != nil {
		return err
	}
	if session == nil || session.Status == model.SessionEnded {
		return reject(CodeSessionGone, "session no longer exists")
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}

	if name := strings.TrimSpace(p.Name); name != "" && !strings.EqualFold(name, player.Name) {
		for _, pv := range state.Players {
			if pv.ID != player.ID && strings.EqualFold(pv.Name, name) {
				return reject(CodeNameTaken, "display name already in use")
			}
		}
		player.Name = name
	}
	if p.Avatar != "" {
		player.Avatar = p.Avatar
	}
	if err := e.players.Update(ctx, player); err != nil {
		return err
	}

	// Broadcast the full view so host and presence flags survive a
	// rename.
	view := e.playerView(session, player, true)
	if i := state.FindPlayer(player.ID); i >= 0 {
		state.Players[i].Name = player.Name
		state.Players[i].Avatar = player.Avatar
		view.Online = state.Players[i].Online
		if err := e.state.Save(ctx, state); err != nil {
			return err
		}
	}
	e.broadcast(ctx, client.SessionID, EventPlayerUpdated, view)
	return nil
}

// handlePlayerRemove kicks a player. Host only; the host cannot remove
// themselves. The removed player's connections get an explicit notice
// before being dropped.
func (e *Engine) handlePlayerRemove(ctx context.Context, client *Client, raw json.RawMessage) error {
	if _, err := e.requireHost(ctx, client); err != nil {
		return err
	}
	var p PlayerPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.PlayerID == "" {
		return reject(CodeBadRequest, "playerId is required")
	}
	if p.PlayerID == client.PlayerID() {
		return reject(CodeBadRequest, "host cannot remove themselves")
	}

	target, err := e.players.GetByID(ctx, p.PlayerID)
	if err != nil {
		return err
	}
	if target == nil || target.SessionID != client.SessionID {
		return reject(CodeNotFound, "player not found")
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	if err := e.players.Delete(ctx, target.ID); err != nil {
		return err
	}
	if err := e.presence.MarkOffline(ctx, client.SessionID, target.ID); err != nil {
		log.Warn().Err(err).Str("player_id", target.ID).Msg("failed to clear presence on removal")
	}

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}
	state.RemovePlayer(target.ID)
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}

	// Notify the removed player first, closing their connections, then
	// tell everyone else.
	e.sendToPlayer(ctx, client.SessionID, target.ID, EventPlayerRemoved, map[string]string{
		"playerId": target.ID,
		"reason":   "removed by host",
	}, true)
	e.broadcast(ctx, client.SessionID, EventPlayerRemoved, map[string]string{"playerId": target.ID})
	log.Info().Str("session_id", client.SessionID).Str("player_id", target.ID).Msg("player removed")
	return nil
}

// handlePlayerPromote transfers the host role. Host only; promoting
// yourself is a no-op rejection.
func (e *Engine) handlePlayerPromote(ctx context.Context, client *Client, raw json.RawMessage) error {
	session, err := e.requireHost(ctx, client)
	if err != nil {
		return err
	}
	var p PlayerPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.PlayerID == "" {
		return reject(CodeBadRequest, "playerId is required")
	}
	if p.PlayerID == client.PlayerID() {
		return reject(CodeBadRequest, "already the host")
	}

	target, err := e.players.GetByID(ctx, p.PlayerID)
	if err != nil {
		return err
	}
	if target == nil || target.SessionID != client.SessionID {
		return reject(CodeNotFound, "player not found")
	}

	session.HostPlayerID = target.ID
	if err := e.sessions.Update(ctx, session); err != nil {
		return err
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}
	for i := range state.Players {
		state.Players[i].IsHost = state.Players[i].ID == target.ID
	}
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}

	e.broadcast(ctx, client.SessionID, EventPlayerPromoted, map[string]string{
		"playerId":       target.ID,
		"previousHostId": client.PlayerID(),
	})
	log.Info().Str("session_id", client.SessionID).Str("player_id", target.ID).Msg("player promoted to host")
	return nil
}
