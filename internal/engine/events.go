package engine

import (
	"encoding/json"
	"time"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/consensus"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

// ActionKind identifies an inbound client message.
type ActionKind string

const (
	ActionSessionJoin    ActionKind = "session-join"
	ActionVoteSubmit     ActionKind = "vote-submit"
	ActionVoteChange     ActionKind = "vote-change"
	ActionCardsReveal    ActionKind = "cards-reveal"
	ActionGameReset      ActionKind = "game-reset"
	ActionItemCreate     ActionKind = "item-create"
	ActionItemUpdate     ActionKind = "item-update"
	ActionItemDelete     ActionKind = "item-delete"
	ActionItemActivate   ActionKind = "item-activate"
	ActionPlayerUpdate   ActionKind = "player-update"
	ActionPlayerRemove   ActionKind = "player-remove"
	ActionPlayerPromote  ActionKind = "player-promote"
	ActionPlayerActivity ActionKind = "player-activity"
	ActionTimerStart     ActionKind = "timer-start"
	ActionTimerStop      ActionKind = "timer-stop"
	ActionTimerPause     ActionKind = "timer-pause"
	ActionTimerResume    ActionKind = "timer-resume"
	ActionTimerReset     ActionKind = "timer-reset"
	ActionTimerAddTime   ActionKind = "timer-add-time"
	ActionTimerAdjust    ActionKind = "timer-adjust"
	ActionTimerConfigure ActionKind = "timer-configure"
)

// EventType identifies an outbound event.
type EventType string

const (
	EventSessionJoined       EventType = "session-joined"
	EventPlayerReconnected   EventType = "player-reconnected"
	EventPlayerJoined        EventType = "player-joined"
	EventPlayerLeft          EventType = "player-left"
	EventPlayerUpdated       EventType = "player-updated"
	EventPlayerRemoved       EventType = "player-removed"
	EventPlayerPromoted      EventType = "player-promoted"
	EventPlayerStatusChanged EventType = "player-status-changed"
	EventVoteSubmitted       EventType = "vote-submitted"
	EventVoteChanged         EventType = "vote-changed"
	EventCardsRevealed       EventType = "cards-revealed"
	EventGameReset           EventType = "game-reset"
	EventItemCreated         EventType = "item-created"
	EventItemUpdated         EventType = "item-updated"
	EventItemDeleted         EventType = "item-deleted"
	EventItemActivated       EventType = "item-activated"
	EventTimerUpdated        EventType = "timer-updated"
	EventSessionEnded        EventType = "session-ended"
	EventConnectionError     EventType = "connection-error"
	EventRateLimitExceeded   EventType = "rate-limit-exceeded"
	EventHeartbeatResponse   EventType = "heartbeat-response"
)

// Message is the inbound WebSocket envelope.
type Message struct {
	Kind    ActionKind      `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Envelope is the outbound event format. Every event travels through
// the store's pub/sub channel for its session; each process's hub
// re-emits it to locally attached connections. Target fields narrow
// delivery to one connection or one player's connections; CloseTarget
// tells the hub to drop the target connection after delivery.
type Envelope struct {
	Type           EventType       `json:"type"`
	SessionID      string          `json:"sessionId"`
	TargetConnID   string          `json:"targetConnId,omitempty"`
	TargetPlayerID string          `json:"targetPlayerId,omitempty"`
	ExcludeConnID  string          `json:"excludeConnId,omitempty"`
	CloseTarget    bool            `json:"closeTarget,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// Inbound payloads.

type JoinPayload struct {
	Token     string `json:"token,omitempty"`
	Name      string `json:"name,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
	Spectator bool   `json:"spectator,omitempty"`
}

type VotePayload struct {
	ItemID string `json:"itemId"`
	Value  string `json:"value"`
}

type ResetPayload struct {
	NextItemID string `json:"nextItemId,omitempty"`
}

type ItemPayload struct {
	ItemID      string `json:"itemId,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type PlayerPayload struct {
	PlayerID string `json:"playerId,omitempty"`
	Name     string `json:"name,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type TimerPayload struct {
	DurationSeconds int64  `json:"durationSeconds,omitempty"`
	Mode            string `json:"mode,omitempty"`
	Seconds         int64  `json:"seconds,omitempty"`
	AutoReveal      bool   `json:"autoReveal,omitempty"`
	WarningAt       int64  `json:"warningAt,omitempty"`
}

// Outbound payloads.

// Snapshot carries the full current state a (re)connecting client
// needs to resynchronize without event replay.
type Snapshot struct {
	Session    *model.Session     `json:"session"`
	You        model.PlayerView   `json:"you"`
	Token      string             `json:"token,omitempty"`
	Players    []model.PlayerView `json:"players"`
	Items      []*model.Item      `json:"items"`
	ActiveItem *model.Item        `json:"activeItem,omitempty"`
	Revealed   bool               `json:"revealed"`
	VoteCount  int64              `json:"voteCount"`
	// Votes and Consensus are populated only when the reveal flag is
	// already set.
	Votes     []model.RevealedVote `json:"votes,omitempty"`
	Consensus *consensus.Result    `json:"consensus,omitempty"`
	Timer     *model.TimerState    `json:"timer,omitempty"`
}

type VoteEventPayload struct {
	ItemID    string `json:"itemId"`
	PlayerID  string `json:"playerId"`
	VoteCount int64  `json:"voteCount"`
}

type RevealPayload struct {
	ItemID        string               `json:"itemId"`
	Votes         []model.RevealedVote `json:"votes"`
	Consensus     consensus.Result     `json:"consensus"`
	FinalEstimate string               `json:"finalEstimate,omitempty"`
}

type ResetEventPayload struct {
	ItemID     string `json:"itemId,omitempty"`
	NextItemID string `json:"nextItemId,omitempty"`
}

type ItemActivatedPayload struct {
	Item           *model.Item `json:"item"`
	PreviousItemID string      `json:"previousItemId,omitempty"`
}

type StatusChangedPayload struct {
	PlayerID string `json:"playerId"`
	Online   bool   `json:"online"`
}

type TimerEventPayload struct {
	Timer     model.TimerState `json:"timer"`
	Completed bool             `json:"completed,omitempty"`
}

type RateLimitPayload struct {
	Action     ActionKind `json:"action"`
	RetryAfter int64      `json:"retryAfterSeconds"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
