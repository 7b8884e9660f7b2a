package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

// handleVote upserts the player's estimate for the active item. While
// the reveal flag is false only the vote count is broadcast, never the
// value.
func (e *Engine) handleVote(ctx context.Context, client *Client, raw json.RawMessage, eventType EventType) error {
	if client.PlayerID() == "" {
		return reject(CodeBadRequest, "join the session first")
	}
	var p VotePayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ItemID == "" || p.Value == "" {
		return reject(CodeBadRequest, "itemId and value are required")
	}

	session, err := e.sessions.GetByID(ctx, client.SessionID)
	if err != nil {
		return err
	}
	if session == nil || session.Status == model.SessionEnded {
		return reject(CodeSessionGone, "session no longer exists")
	}
	if !session.InDeck(p.Value) {
		return reject(CodeInvalidCard, "value is not in the session deck")
	}

	player, err := e.players.GetByID(ctx, client.PlayerID())
	if err != nil {
		return err
	}
	if player == nil {
		return reject(CodeNotFound, "player no longer exists")
	}
	if player.Spectator {
		return reject(CodeSpectator, "spectators cannot vote")
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}
	if state.ActiveItemID == "" || state.ActiveItemID != p.ItemID {
		return reject(CodeItemNotActive, "item is not the active one")
	}
	if state.Revealed {
		return reject(CodeVotingClosed, "votes are already revealed")
	}

	vote := &model.Vote{
		ID:        uuid.NewString(),
		SessionID: client.SessionID,
		ItemID:    p.ItemID,
		PlayerID:  client.PlayerID(),
		Value:     p.Value,
		UpdatedAt: time.Now(),
	}
	if err := e.votes.Upsert(ctx, vote); err != nil {
		return err
	}

	e.presence.MarkOnline(ctx, client.SessionID, client.PlayerID(), client.ConnID)

	count, err := e.votes.CountByItem(ctx, p.ItemID)
	if err != nil {
		return err
	}
	e.broadcast(ctx, client.SessionID, eventType, VoteEventPayload{
		ItemID:    p.ItemID,
		PlayerID:  client.PlayerID(),
		VoteCount: count,
	})
	return nil
}

// handleReveal flips the reveal flag and broadcasts full vote values
// plus consensus. Host only; when the agreement ratio clears the
// threshold the mode is persisted onto the item as its final estimate.
func (e *Engine) handleReveal(ctx context.Context, client *Client) error {
	if _, err := e.requireHost(ctx, client); err != nil {
		return err
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()
	return e.revealLocked(ctx, client.SessionID)
}

// autoReveal is the timer-completion path: same mutation as a host
// reveal, triggered by the engine itself.
func (e *Engine) autoReveal(ctx context.Context, sessionID string) error {
	unlock := e.locks.lock(sessionID)
	defer unlock()
	return e.revealLocked(ctx, sessionID)
}

func (e *Engine) revealLocked(ctx context.Context, sessionID string) error {
	state, err := e.state.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if state.ActiveItemID == "" {
		return reject(CodeItemNotActive, "no active item to reveal")
	}
	if state.Revealed {
		return reject(CodeVotingClosed, "votes are already revealed")
	}

	votes, err := e.votes.GetByItem(ctx, state.ActiveItemID)
	if err != nil {
		return err
	}
	revealed, result := e.revealedVotes(state, votes)

	var finalEstimate string
	if result.TotalVotes > 0 && result.AgreementRatio >= e.threshold {
		item, err := e.items.GetByID(ctx, state.ActiveItemID)
		if err != nil {
			return err
		}
		if item != nil {
			item.FinalEstimate = result.ModeValue
			if err := e.items.Update(ctx, item); err != nil {
				return err
			}
			finalEstimate = result.ModeValue
		}
	}

	state.Revealed = true
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}

	e.broadcast(ctx, sessionID, EventCardsRevealed, RevealPayload{
		ItemID:        state.ActiveItemID,
		Votes:         revealed,
		Consensus:     result,
		FinalEstimate: finalEstimate,
	})
	log.Info().Str("session_id", sessionID).Str("item_id", state.ActiveItemID).
		Float64("agreement", result.AgreementRatio).Msg("cards revealed")
	return nil
}

// handleReset starts a new round. Host only. Without a next item the
// active item's votes are cleared for a re-vote; with one, the current
// item is marked completed and the new item becomes active. Either way
// the reveal flag drops.
func (e *Engine) handleReset(ctx context.Context, client *Client, raw json.RawMessage) error {
	if _, err := e.requireHost(ctx, client); err != nil {
		return err
	}
	var p ResetPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return reject(CodeBadRequest, "malformed reset payload")
		}
	}

	unlock := e.locks.lock(client.SessionID)
	defer unlock()

	state, err := e.state.Get(ctx, client.SessionID)
	if err != nil {
		return err
	}
	currentItemID := state.ActiveItemID

	if p.NextItemID != "" {
		next, err := e.items.GetByID(ctx, p.NextItemID)
		if err != nil {
			return err
		}
		if next == nil || next.SessionID != client.SessionID {
			return reject(CodeNotFound, "next item not found")
		}
		if currentItemID != "" {
			if current, err := e.items.GetByID(ctx, currentItemID); err == nil && current != nil {
				current.Status = model.ItemCompleted
				if err := e.items.Update(ctx, current); err != nil {
					return err
				}
			}
		}
		next.Status = model.ItemVoting
		if err := e.items.Update(ctx, next); err != nil {
			return err
		}
		state.ActiveItemID = next.ID
	} else {
		if currentItemID == "" {
			return reject(CodeItemNotActive, "no active item to reset")
		}
		if err := e.votes.DeleteByItem(ctx, currentItemID); err != nil {
			return err
		}
	}

	state.Revealed = false
	if err := e.state.Save(ctx, state); err != nil {
		return err
	}

	e.broadcast(ctx, client.SessionID, EventGameReset, ResetEventPayload{
		ItemID:     currentItemID,
		NextItemID: p.NextItemID,
	})
	return nil
}
