package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist or expired.
var ErrNotFound = errors.New("store: key not found")

// Adapter is the thin contract over the shared state store. It owns no
// business logic: whole-record reads and writes with TTL, prefix
// cleanup, fixed-window counters and channel fan-out. Partial updates
// are read-modify-write at the caller.
type Adapter interface {
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every key under a namespace prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	// GetPrefix returns all live key/value pairs under a prefix.
	GetPrefix(ctx context.Context, prefix string) (map[string][]byte, error)

	// Incr increments a fixed-window counter, setting the window TTL on
	// first increment. Returns the new count and the window's remaining
	// TTL.
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)

	// Publish fans a message out to every subscriber of a channel,
	// across processes.
	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers a handler for a channel and returns a stop
	// function. Handlers run on the subscription's goroutine.
	Subscribe(ctx context.Context, channel string, handler func(payload []byte)) (func(), error)
}

// Session-scoped key namespace. Everything under one session shares the
// "ses:{id}:" prefix so teardown is a single prefix delete.

func SessionPrefix(sessionID string) string {
	return fmt.Sprintf("ses:%s:", sessionID)
}

func stateKey(sessionID string) string {
	return fmt.Sprintf("ses:%s:state", sessionID)
}

func timerKey(sessionID string) string {
	return fmt.Sprintf("ses:%s:timer", sessionID)
}

func presenceKey(sessionID, playerID string) string {
	return fmt.Sprintf("ses:%s:presence:%s", sessionID, playerID)
}

func presencePrefix(sessionID string) string {
	return fmt.Sprintf("ses:%s:presence:", sessionID)
}

// EventChannel is the pub/sub channel carrying a session's outbound
// events to every process with attached connections.
func EventChannel(sessionID string) string {
	return fmt.Sprintf("ses:%s:events", sessionID)
}
