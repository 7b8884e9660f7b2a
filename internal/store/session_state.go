package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

// StateStore keeps each session's live snapshot in the shared store.
// The record is written whole on every change; concurrent handlers for
// one session are serialized by the engine, not here.
type StateStore struct {
	adapter Adapter
	ttl     time.Duration
}

func NewStateStore(adapter Adapter, ttl time.Duration) *StateStore {
	return &StateStore{adapter: adapter, ttl: ttl}
}

// Get loads the session's live state, creating an empty snapshot
// lazily when none exists yet.
func (s *StateStore) Get(ctx context.Context, sessionID string) (*model.SessionState, error) {
	data, err := s.adapter.Get(ctx, stateKey(sessionID))
	if errors.Is(err, ErrNotFound) {
		return &model.SessionState{SessionID: sessionID}, nil
	}
	if err != nil {
		return nil, err
	}
	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// Save writes the whole snapshot back, refreshing the idle TTL.
func (s *StateStore) Save(ctx context.Context, state *model.SessionState) error {
	state.UpdatedAt = time.Now()
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.adapter.Put(ctx, stateKey(state.SessionID), data, s.ttl)
}

// Clear tears down every key the session owns: live state, timer state
// and presence mappings in one prefix sweep.
func (s *StateStore) Clear(ctx context.Context, sessionID string) error {
	return s.adapter.DeletePrefix(ctx, SessionPrefix(sessionID))
}
