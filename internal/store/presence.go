package store

import (
	"context"
	"errors"
	"time"
)

// PresenceStore maps player ids to the connection currently
// representing them. Records carry a short TTL; absence means offline.
// Writes overwrite, so at most one live mapping exists per player.
type PresenceStore struct {
	adapter Adapter
	ttl     time.Duration
}

func NewPresenceStore(adapter Adapter, ttl time.Duration) *PresenceStore {
	return &PresenceStore{adapter: adapter, ttl: ttl}
}

// MarkOnline records (or refreshes) the player's presence mapping.
func (p *PresenceStore) MarkOnline(ctx context.Context, sessionID, playerID, connID string) error {
	return p.adapter.Put(ctx, presenceKey(sessionID, playerID), []byte(connID), p.ttl)
}

// MarkOffline drops the mapping immediately instead of waiting for TTL.
func (p *PresenceStore) MarkOffline(ctx context.Context, sessionID, playerID string) error {
	return p.adapter.Delete(ctx, presenceKey(sessionID, playerID))
}

// IsOnline reports whether a live mapping exists for the player.
func (p *PresenceStore) IsOnline(ctx context.Context, sessionID, playerID string) (bool, error) {
	_, err := p.adapter.Get(ctx, presenceKey(sessionID, playerID))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ConnID returns the connection id representing the player, or "" when
// the player is offline.
func (p *PresenceStore) ConnID(ctx context.Context, sessionID, playerID string) (string, error) {
	data, err := p.adapter.Get(ctx, presenceKey(sessionID, playerID))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Online returns all currently-online player ids for a session, mapped
// to their connection ids.
func (p *PresenceStore) Online(ctx context.Context, sessionID string) (map[string]string, error) {
	prefix := presencePrefix(sessionID)
	pairs, err := p.adapter.GetPrefix(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(pairs))
	for key, connID := range pairs {
		out[key[len(prefix):]] = string(connID)
	}
	return out, nil
}
