package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
)

// TimerStore persists full timer state per session so a restarted
// process can rehydrate in-progress timers.
type TimerStore struct {
	adapter Adapter
	ttl     time.Duration
}

func NewTimerStore(adapter Adapter, ttl time.Duration) *TimerStore {
	return &TimerStore{adapter: adapter, ttl: ttl}
}

func (t *TimerStore) Save(ctx context.Context, sessionID string, state *model.TimerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return t.adapter.Put(ctx, timerKey(sessionID), data, t.ttl)
}

func (t *TimerStore) Load(ctx context.Context, sessionID string) (*model.TimerState, error) {
	data, err := t.adapter.Get(ctx, timerKey(sessionID))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var state model.TimerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (t *TimerStore) Delete(ctx context.Context, sessionID string) error {
	return t.adapter.Delete(ctx, timerKey(sessionID))
}

// All returns every persisted timer state keyed by session id, used
// once at startup to re-arm running timers.
func (t *TimerStore) All(ctx context.Context) (map[string]*model.TimerState, error) {
	pairs, err := t.adapter.GetPrefix(ctx, "ses:")
	if err != nil {
		return nil, err
	}
	out := make(map[string]*model.TimerState)
	for key, data := range pairs {
		if !strings.HasSuffix(key, ":timer") {
			continue
		}
		sessionID := strings.TrimSuffix(strings.TrimPrefix(key, "ses:"), ":timer")
		var state model.TimerState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		out[sessionID] = &state
	}
	return out, nil
}
