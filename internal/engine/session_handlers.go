package engine

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/consensus"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
)

// handleJoin admits a connection into a session. A valid token whose
// player still exists is a reconnect: the client gets a private
// snapshot of current state instead of replayed events. Anything else
// is a new join, gated on display-name uniqueness.
func (e *Engine) handleJoin(ctx context.Context, client *Client, raw json.RawMessage) error {
	var p JoinPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return reject(CodeBadRequest, "malformed join payload")
		}
	}

	session, err := e.sessions.GetByID(ctx, client.SessionID)
	if err != nil {
		return err
	}
	if session == nil || session.Status == model.SessionEnded {
		return reject(CodeSessionGone, "session no longer exists")
	}

	if p.Token != "" {
		claims, err := e.auth.ValidateToken(p.Token)
		if err != nil || claims.SessionID != client.SessionID {
			return reject(CodeBadRequest, "invalid session token")
		}
		player, err := e.players.GetByID(ctx, claims.PlayerID)
		if err != nil {
			return err
		}
		if player != nil && player.SessionID == session.ID {
			return e.reconnect(ctx, client, session, player)
		}
		// Player vanished (removed or expired); fall through to a new
		// join when a name was supplied.
	}
	return e.join(ctx, client, session, p)
}

func (e *Engine) reconnect(ctx context.Context, client *Client, session *model.Session, player *model.Player) error {
	unlock := e.locks.lock(session.ID)
	defer unlock()

	state, err := e.state.Get(ctx, session.ID)
	if err != nil {
		return err
	}
	if i := state.FindPlayer(player.ID); i >= 0 {
		state.Players[i].Online = true
	} else {
		// Live state expired while the player was away; rebuild their
		// entry from the durable record.
		state.Players = append(state.Players, e.playerView(session, player, true))
	}
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}
	if err := e.presence.MarkOnline(ctx, session.ID, player.ID, client.ConnID); err != nil {
		return err
	}
	e.mirrorConn(ctx, client, player.ID)
	client.SetPlayerID(player.ID)

	snapshot, err := e.buildSnapshot(ctx, session, state, player)
	if err != nil {
		return err
	}
	e.sendTo(ctx, session.ID, client.ConnID, EventPlayerReconnected, snapshot)
	e.broadcastExcept(ctx, session.ID, client.ConnID, EventPlayerStatusChanged, StatusChangedPayload{
		PlayerID: player.ID,
		Online:   true,
	})
	log.Info().Str("session_id", session.ID).Str("player_id", player.ID).Msg("player reconnected")
	return nil
}

func (e *Engine) join(ctx context.Context, client *Client, session *model.Session, p JoinPayload) error {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return reject(CodeBadRequest, "display name is required")
	}

	unlock := e.locks.lock(session.ID)
	defer unlock()

	state, err := e.state.Get(ctx, session.ID)
	if err != nil {
		return err
	}
	for _, pv := range state.Players {
		if strings.EqualFold(pv.Name, name) {
			return reject(CodeNameTaken, "display name already in use")
		}
	}

	now := time.Now()
	player := &model.Player{
		ID:           uuid.NewString(),
		SessionID:    session.ID,
		Name:         name,
		Avatar:       p.Avatar,
		Spectator:    p.Spectator,
		JoinedAt:     now,
		LastActiveAt: now,
	}
	if err := e.players.Create(ctx, player); err != nil {
		return err
	}

	state.Players = append(state.Players, e.playerView(session, player, true))
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}
	if err := e.presence.MarkOnline(ctx, session.ID, player.ID, client.ConnID); err != nil {
		return err
	}
	e.mirrorConn(ctx, client, player.ID)
	client.SetPlayerID(player.ID)

	token, err := e.auth.IssueToken(session.ID, player.ID)
	if err != nil {
		return err
	}
	snapshot, err := e.buildSnapshot(ctx, session, state, player)
	if err != nil {
		return err
	}
	snapshot.Token = token

	e.sendTo(ctx, session.ID, client.ConnID, EventSessionJoined, snapshot)
	e.broadcastExcept(ctx, session.ID, client.ConnID, EventPlayerJoined, e.playerView(session, player, true))
	log.Info().Str("session_id", session.ID).Str("player_id", player.ID).Str("name", name).Msg("player joined")
	return nil
}

// handleActivity refreshes presence and last-activity. Read-mostly, so
// it runs without the per-session lock; crossing the staleness
// threshold triggers a status-change broadcast.
func (e *Engine) handleActivity(ctx context.Context, client *Client) error {
	if client.PlayerID() == "" {
		return reject(CodeBadRequest, "join the session first")
	}
	wasOnline, err := e.presence.IsOnline(ctx, client.SessionID, client.PlayerID())
	if err != nil {
		return err
	}
	if err := e.presence.MarkOnline(ctx, client.SessionID, client.PlayerID(), client.ConnID); err != nil {
		return err
	}
	e.mirrorConn(ctx, client, client.PlayerID())

	if player, err := e.players.GetByID(ctx, client.PlayerID()); err == nil && player != nil {
		player.LastActiveAt = time.Now()
		if err := e.players.Update(ctx, player); err != nil {
			log.Warn().Err(err).Str("player_id", client.PlayerID()).Msg("failed to persist activity time")
		}
	}

	e.sendTo(ctx, client.SessionID, client.ConnID, EventHeartbeatResponse, map[string]interface{}{
		"serverTime": time.Now().UTC(),
	})
	if !wasOnline {
		e.broadcastExcept(ctx, client.SessionID, client.ConnID, EventPlayerStatusChanged, StatusChangedPayload{
			PlayerID: client.PlayerID(),
			Online:   true,
		})
	}
	return nil
}

// Disconnect deregisters a connection. Session state outlives the
// connection, so only presence and the connection mirror are torn
// down. The presence mapping is released only when this connection
// still owns it, so a quick reconnect is never stomped.
func (e *Engine) Disconnect(ctx context.Context, client *Client) {
	e.limiter.Reset(ctx, client.ConnID)
	if err := e.conns.Delete(ctx, client.ConnID); err != nil {
		log.Warn().Err(err).Str("conn_id", client.ConnID).Msg("failed to delete connection mirror")
	}
	if client.PlayerID() == "" {
		return
	}
	owner, err := e.presence.ConnID(ctx, client.SessionID, client.PlayerID())
	if err != nil || owner != client.ConnID {
		return
	}
	if err := e.presence.MarkOffline(ctx, client.SessionID, client.PlayerID()); err != nil {
		log.Warn().Err(err).Str("player_id", client.PlayerID()).Msg("failed to clear presence")
	}

	unlock := e.locks.lock(client.SessionID)
	state, err := e.state.Get(ctx, client.SessionID)
	if err == nil {
		if i := state.FindPlayer(client.PlayerID()); i >= 0 {
			state.Players[i].Online = false
			if err := e.state.Save(ctx, state); err != nil {
				log.Warn().Err(err).Str("session_id", client.SessionID).Msg("failed to save state on disconnect")
			}
		}
	}
	unlock()

	e.broadcast(ctx, client.SessionID, EventPlayerLeft, StatusChangedPayload{
		PlayerID: client.PlayerID(),
		Online:   false,
	})
}

// EndSession tears a session down: durable status flip, one final
// broadcast, then the whole live-state namespace is cleared.
func (e *Engine) EndSession(ctx context.Context, sessionID, playerID string) error {
	session, err := e.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return reject(CodeNotFound, "session not found")
	}
	if session.HostPlayerID != playerID {
		return reject(CodeNotHost, "only the host may end the session")
	}

	session.Status = model.SessionEnded
	if err := e.sessions.Update(ctx, session); err != nil {
		return err
	}
	e.broadcast(ctx, sessionID, EventSessionEnded, map[string]string{"sessionId": sessionID})

	e.timers.Cancel(sessionID)
	if err := e.state.Clear(ctx, sessionID); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to clear session state")
	}
	log.Info().Str("session_id", sessionID).Msg("session ended")
	return nil
}

func (e *Engine) mirrorConn(ctx context.Context, client *Client, playerID string) {
	rec := &store.ConnRecord{
		ConnID:       client.ConnID,
		SessionID:    client.SessionID,
		PlayerID:     playerID,
		ConnectedAt:  client.ConnectedAt,
		LastActivity: time.Now(),
	}
	if err := e.conns.Save(ctx, rec); err != nil {
		log.Warn().Err(err).Str("conn_id", client.ConnID).Msg("failed to mirror connection")
	}
}

func (e *Engine) playerView(session *model.Session, player *model.Player, online bool) model.PlayerView {
	return model.PlayerView{
		ID:        player.ID,
		Name:      player.Name,
		Avatar:    player.Avatar,
		Spectator: player.Spectator,
		IsHost:    session.HostPlayerID == player.ID,
		Online:    online,
	}
}

// buildSnapshot assembles the full current-state view a client needs
// to resynchronize: players with fresh presence, items, the active
// item's vote count (values only once revealed) and derived timer
// state.
func (e *Engine) buildSnapshot(ctx context.Context, session *model.Session, state *model.SessionState, you *model.Player) (*Snapshot, error) {
	items, err := e.items.GetBySession(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	online, err := e.presence.Online(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	players := make([]model.PlayerView, len(state.Players))
	for i, pv := range state.Players {
		pv.Online = online[pv.ID] != ""
		players[i] = pv
	}

	snap := &Snapshot{
		Session:  session,
		Players:  players,
		Items:    items,
		Revealed: state.Revealed,
	}
	snap.You = e.playerView(session, you, true)

	if state.ActiveItemID != "" {
		for _, item := range items {
			if item.ID == state.ActiveItemID {
				snap.ActiveItem = item
				break
			}
		}
		count, err := e.votes.CountByItem(ctx, state.ActiveItemID)
		if err != nil {
			return nil, err
		}
		snap.VoteCount = count

		if state.Revealed {
			votes, err := e.votes.GetByItem(ctx, state.ActiveItemID)
			if err != nil {
				return nil, err
			}
			revealed, result := e.revealedVotes(state, votes)
			snap.Votes = revealed
			snap.Consensus = &result
		}
	}

	if timerState, err := e.timers.Current(ctx, session.ID); err == nil && timerState != nil {
		snap.Timer = timerState
	}
	return snap, nil
}

// revealedVotes converts stored votes into their wire shape and runs
// the consensus calculation over them in stored order.
func (e *Engine) revealedVotes(state *model.SessionState, votes []*model.Vote) ([]model.RevealedVote, consensus.Result) {
	names := make(map[string]string, len(state.Players))
	for _, pv := range state.Players {
		names[pv.ID] = pv.Name
	}
	revealed := make([]model.RevealedVote, 0, len(votes))
	estimates := make([]consensus.Estimate, 0, len(votes))
	for _, v := range votes {
		revealed = append(revealed, model.RevealedVote{
			PlayerID:   v.PlayerID,
			PlayerName: names[v.PlayerID],
			Value:      v.Value,
		})
		estimates = append(estimates, consensus.Estimate{PlayerID: v.PlayerID, Value: v.Value})
	}
	return revealed, consensus.Calculate(estimates)
}
