// Package engine is the session synchronization orchestrator. Every
// inbound action follows the same shape: rate-limit check, optional
// host authorization against the durable session record, persistent
// mutation, shared live-state update under a per-session lock, then a
// broadcast through the store's pub/sub fan-out.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/auth"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/ratelimit"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/repository"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/timer"
)

// Client is the engine's view of one live connection. The transport
// owns the socket; the engine sets the player id once the join
// handshake identifies the participant. The id is read by the hub's
// delivery goroutine, hence the guard.
type Client struct {
	ConnID      string
	SessionID   string
	ConnectedAt time.Time

	mu       sync.Mutex
	playerID string
}

// PlayerID returns the identified player, or "" before the join
// handshake completes.
func (c *Client) PlayerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playerID
}

func (c *Client) SetPlayerID(id string) {
	c.mu.Lock()
	c.playerID = id
	c.mu.Unlock()
}

// Engine coordinates all state-mutating actions for sessions.
type Engine struct {
	sessions repository.SessionRepo
	players  repository.PlayerRepo
	items    repository.ItemRepo
	votes    repository.VoteRepo

	state    *store.StateStore
	presence *store.PresenceStore
	conns    *store.ConnStore
	bus      store.Adapter
	limiter  *ratelimit.Limiter
	timers   *timer.Engine
	auth     *auth.Service

	threshold float64
	locks     keyedMutex
}

// Deps bundles the engine's collaborators, constructed once at
// process start and passed explicitly.
type Deps struct {
	Sessions repository.SessionRepo
	Players  repository.PlayerRepo
	Items    repository.ItemRepo
	Votes    repository.VoteRepo

	State    *store.StateStore
	Presence *store.PresenceStore
	Conns    *store.ConnStore
	Bus      store.Adapter
	Limiter  *ratelimit.Limiter
	Timers   *timer.Engine
	Auth     *auth.Service

	AgreementThreshold float64
}

func New(deps Deps) *Engine {
	threshold := deps.AgreementThreshold
	if threshold == 0 {
		threshold = 0.8
	}
	return &Engine{
		sessions:  deps.Sessions,
		players:   deps.Players,
		items:     deps.Items,
		votes:     deps.Votes,
		state:     deps.State,
		presence:  deps.Presence,
		conns:     deps.Conns,
		bus:       deps.Bus,
		limiter:   deps.Limiter,
		timers:    deps.Timers,
		auth:      deps.Auth,
		threshold: threshold,
		locks:     keyedMutex{locks: make(map[string]*lockEntry)},
	}
}

// Run drains the timer engine's event stream, turning ticks into
// timer-updated broadcasts and completions into auto-reveals. Blocks
// until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.timers.Events():
			e.broadcast(ctx, ev.SessionID, EventTimerUpdated, TimerEventPayload{
				Timer:     ev.State,
				Completed: ev.Completed,
			})
			if ev.Completed && ev.State.AutoReveal {
				if err := e.autoReveal(ctx, ev.SessionID); err != nil {
					log.Warn().Err(err).Str("session_id", ev.SessionID).Msg("auto-reveal failed")
				}
			}
		}
	}
}

// HandleMessage is the boundary for all inbound actions: it enforces
// the rate limit, routes to the handler for the action kind, and
// converts every failure into one of the error categories before it
// can reach the transport.
func (e *Engine) HandleMessage(ctx context.Context, client *Client, raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("conn_id", client.ConnID).Msg("handler panic")
			e.sendError(ctx, client, reject(CodeInternal, "internal error"))
		}
	}()

	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		e.sendError(ctx, client, reject(CodeBadRequest, "malformed message"))
		return
	}

	if res := e.limiter.Check(ctx, client.ConnID, bucketFor(msg.Kind)); !res.Allowed {
		e.sendTo(ctx, client.SessionID, client.ConnID, EventRateLimitExceeded, RateLimitPayload{
			Action:     msg.Kind,
			RetryAfter: res.RetryAfter,
		})
		return
	}

	err := e.route(ctx, client, msg)
	if err == nil {
		return
	}
	var policyErr *Error
	switch {
	case errors.As(err, &policyErr):
		e.sendError(ctx, client, policyErr)
		if policyErr.Code == CodeSessionGone {
			e.closeConn(ctx, client)
		}
	default:
		// Infrastructure failure: log server-side, generic error to
		// the initiating client only.
		log.Error().Err(err).
			Str("conn_id", client.ConnID).
			Str("session_id", client.SessionID).
			Str("kind", string(msg.Kind)).
			Msg("action failed")
		e.sendError(ctx, client, reject(CodeInternal, "temporary failure, please retry"))
	}
}

func (e *Engine) route(ctx context.Context, client *Client, msg Message) error {
	switch msg.Kind {
	case ActionSessionJoin:
		return e.handleJoin(ctx, client, msg.Payload)
	case ActionVoteSubmit:
		return e.handleVote(ctx, client, msg.Payload, EventVoteSubmitted)
	case ActionVoteChange:
		return e.handleVote(ctx, client, msg.Payload, EventVoteChanged)
	case ActionCardsReveal:
		return e.handleReveal(ctx, client)
	case ActionGameReset:
		return e.handleReset(ctx, client, msg.Payload)
	case ActionItemCreate, ActionItemUpdate, ActionItemDelete, ActionItemActivate:
		return e.handleItem(ctx, client, msg.Kind, msg.Payload)
	case ActionPlayerUpdate:
		return e.handlePlayerUpdate(ctx, client, msg.Payload)
	case ActionPlayerRemove:
		return e.handlePlayerRemove(ctx, client, msg.Payload)
	case ActionPlayerPromote:
		return e.handlePlayerPromote(ctx, client, msg.Payload)
	case ActionPlayerActivity:
		return e.handleActivity(ctx, client)
	case ActionTimerStart, ActionTimerStop, ActionTimerPause, ActionTimerResume,
		ActionTimerReset, ActionTimerAddTime, ActionTimerAdjust, ActionTimerConfigure:
		return e.handleTimer(ctx, client, msg.Kind, msg.Payload)
	default:
		return reject(CodeBadRequest, "unknown action kind")
	}
}

// bucketFor maps action kinds onto rate-limit buckets.
func bucketFor(kind ActionKind) ratelimit.Action {
	switch kind {
	case ActionSessionJoin:
		return ratelimit.ActionJoin
	case ActionVoteSubmit, ActionVoteChange:
		return ratelimit.ActionVote
	case ActionCardsReveal:
		return ratelimit.ActionReveal
	case ActionGameReset:
		return ratelimit.ActionReset
	case ActionItemCreate, ActionItemUpdate, ActionItemDelete, ActionItemActivate:
		return ratelimit.ActionItem
	case ActionPlayerUpdate, ActionPlayerRemove, ActionPlayerPromote:
		return ratelimit.ActionPlayer
	case ActionPlayerActivity:
		return ratelimit.ActionHeartbeat
	default:
		return ratelimit.ActionTimer
	}
}

// requireHost re-reads the session from durable storage and checks the
// host id. Never trusts a cached or token-embedded role.
func (e *Engine) requireHost(ctx context.Context, client *Client) (*model.Session, error) {
	session, err := e.sessions.GetByID(ctx, client.SessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.Status == model.SessionEnded {
		return nil, reject(CodeSessionGone, "session no longer exists")
	}
	if client.PlayerID() == "" || session.HostPlayerID != client.PlayerID() {
		return nil, reject(CodeNotHost, "only the host may perform this action")
	}
	return session, nil
}

// Broadcast helpers. Everything goes through the store's pub/sub even
// for locally attached connections: one delivery path, across
// processes.

func (e *Engine) publish(ctx context.Context, env *Envelope) {
	env.Timestamp = time.Now()
	data, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("type", string(env.Type)).Msg("failed to marshal envelope")
		return
	}
	if err := e.bus.Publish(ctx, store.EventChannel(env.SessionID), data); err != nil {
		log.Error().Err(err).Str("session_id", env.SessionID).Str("type", string(env.Type)).
			Msg("failed to publish event")
	}
}

func (e *Engine) broadcast(ctx context.Context, sessionID string, typ EventType, payload interface{}) {
	data, _ := json.Marshal(payload)
	e.publish(ctx, &Envelope{Type: typ, SessionID: sessionID, Payload: data})
}

// broadcastExcept delivers to everyone in the session but the given
// connection.
func (e *Engine) broadcastExcept(ctx context.Context, sessionID, connID string, typ EventType, payload interface{}) {
	data, _ := json.Marshal(payload)
	e.publish(ctx, &Envelope{Type: typ, SessionID: sessionID, ExcludeConnID: connID, Payload: data})
}

func (e *Engine) sendTo(ctx context.Context, sessionID, connID string, typ EventType, payload interface{}) {
	data, _ := json.Marshal(payload)
	e.publish(ctx, &Envelope{Type: typ, SessionID: sessionID, TargetConnID: connID, Payload: data})
}

func (e *Engine) sendToPlayer(ctx context.Context, sessionID, playerID string, typ EventType, payload interface{}, closeAfter bool) {
	data, _ := json.Marshal(payload)
	e.publish(ctx, &Envelope{
		Type:           typ,
		SessionID:      sessionID,
		TargetPlayerID: playerID,
		CloseTarget:    closeAfter,
		Payload:        data,
	})
}

func (e *Engine) sendError(ctx context.Context, client *Client, err *Error) {
	e.sendTo(ctx, client.SessionID, client.ConnID, EventConnectionError, ErrorPayload{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

func (e *Engine) closeConn(ctx context.Context, client *Client) {
	e.publish(ctx, &Envelope{
		Type:         EventConnectionError,
		SessionID:    client.SessionID,
		TargetConnID: client.ConnID,
		CloseTarget:  true,
	})
}

// keyedMutex serializes state-mutating handlers per session so
// concurrent read-modify-writes of live state cannot interleave.
// Entries are reference counted and removed as soon as the last
// holder releases, so sessions that simply expire leave nothing
// behind in the map.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
