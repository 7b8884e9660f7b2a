package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ConnRecord mirrors a live connection into the shared store. The
// owning process holds the transport; the mirror lets other processes
// and restart recovery discover it. Expires by TTL when the owner dies
// without cleaning up.
type ConnRecord struct {
	ConnID       string    `json:"connId"`
	SessionID    string    `json:"sessionId"`
	PlayerID     string    `json:"playerId,omitempty"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

type ConnStore struct {
	adapter Adapter
	ttl     time.Duration
}

func NewConnStore(adapter Adapter, ttl time.Duration) *ConnStore {
	return &ConnStore{adapter: adapter, ttl: ttl}
}

func connKey(connID string) string {
	return fmt.Sprintf("conn:%s", connID)
}

// Save writes (or refreshes) the mirror record.
func (c *ConnStore) Save(ctx context.Context, rec *ConnRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.adapter.Put(ctx, connKey(rec.ConnID), data, c.ttl)
}

func (c *ConnStore) Delete(ctx context.Context, connID string) error {
	return c.adapter.Delete(ctx, connKey(connID))
}
