package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
)

// Action groups inbound message kinds into quota buckets. Heartbeats
// are allowed far more often than item creation.
type Action string

const (
	ActionJoin      Action = "join"
	ActionVote      Action = "vote"
	ActionReveal    Action = "reveal"
	ActionReset     Action = "reset"
	ActionItem      Action = "item"
	ActionPlayer    Action = "player"
	ActionTimer     Action = "timer"
	ActionHeartbeat Action = "heartbeat"
)

// Quota is a fixed-window limit for one action bucket.
type Quota struct {
	Limit  int64
	Window time.Duration
}

// DefaultQuotas returns the per-bucket limits. Each (connection,
// action) pair gets an independent window.
func DefaultQuotas() map[Action]Quota {
	return map[Action]Quota{
		ActionJoin:      {Limit: 5, Window: time.Minute},
		ActionVote:      {Limit: 30, Window: time.Minute},
		ActionReveal:    {Limit: 10, Window: time.Minute},
		ActionReset:     {Limit: 10, Window: time.Minute},
		ActionItem:      {Limit: 10, Window: time.Minute},
		ActionPlayer:    {Limit: 15, Window: time.Minute},
		ActionTimer:     {Limit: 30, Window: time.Minute},
		ActionHeartbeat: {Limit: 120, Window: time.Minute},
	}
}

// Result is the outcome of a quota check. RetryAfter is populated only
// when the action was rejected.
type Result struct {
	Allowed    bool
	RetryAfter int64 // seconds until the window resets
}

// Limiter enforces per-connection quotas through the shared store so
// limits hold across processes.
type Limiter struct {
	adapter store.Adapter
	quotas  map[Action]Quota
}

func New(adapter store.Adapter, quotas map[Action]Quota) *Limiter {
	if quotas == nil {
		quotas = DefaultQuotas()
	}
	return &Limiter{adapter: adapter, quotas: quotas}
}

func counterKey(connID string, action Action) string {
	return fmt.Sprintf("rl:%s:%s", connID, action)
}

// Check increments the connection's counter for the action's bucket.
// When the store is unreachable the check fails open: availability
// wins over strict throttling.
func (l *Limiter) Check(ctx context.Context, connID string, action Action) Result {
	quota, ok := l.quotas[action]
	if !ok {
		return Result{Allowed: true}
	}
	count, ttl, err := l.adapter.Incr(ctx, counterKey(connID, action), quota.Window)
	if err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Str("action", string(action)).
			Msg("rate limit check failed, allowing action")
		return Result{Allowed: true}
	}
	if count > quota.Limit {
		retry := int64(math.Ceil(ttl.Seconds()))
		if retry < 1 {
			retry = 1
		}
		return Result{Allowed: false, RetryAfter: retry}
	}
	return Result{Allowed: true}
}

// Reset clears all of a connection's counters on disconnect.
func (l *Limiter) Reset(ctx context.Context, connID string) {
	if err := l.adapter.DeletePrefix(ctx, "rl:"+connID+":"); err != nil {
		log.Warn().Err(err).Str("conn_id", connID).Msg("failed to reset rate limit counters")
	}
}
