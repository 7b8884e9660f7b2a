// Package timer implements the per-session countdown/stopwatch state
// machine. Full state is persisted through the shared store after
// every transition so a restarted process can rehydrate in-progress
// timers, and remaining time is always derived from the start
// timestamp rather than decremented in place.
package timer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/store"
)

var (
	ErrNoTimer           = errors.New("timer: no timer for session")
	ErrInvalidTransition = errors.New("timer: invalid state transition")
)

// Event is emitted on every tick persist and once on countdown
// completion. The orchestrator drains Events() and turns these into
// broadcasts; the engine itself never touches the transport.
type Event struct {
	SessionID string
	State     model.TimerState
	// Completed fires exactly once, when a countdown reaches zero.
	Completed bool
}

// Engine is a registry of session timers. One instance is constructed
// at process start and passed explicitly to the orchestrator.
type Engine struct {
	clock  clockwork.Clock
	states *store.TimerStore
	events chan Event

	mu    sync.Mutex
	ticks map[string]chan struct{}
}

func NewEngine(states *store.TimerStore, clock clockwork.Clock) *Engine {
	return &Engine{
		clock:  clock,
		states: states,
		events: make(chan Event, 256),
		ticks:  make(map[string]chan struct{}),
	}
}

// Events exposes the engine's outbound event stream.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Start begins a new run, cancelling any existing one for the session.
func (e *Engine) Start(ctx context.Context, sessionID string, durationSeconds int64, mode model.TimerMode, autoReveal bool, warningAt int64) (*model.TimerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	state := &model.TimerState{
		Mode:            mode,
		Running:         true,
		DurationSeconds: durationSeconds,
		StartedAt:       &now,
		AutoReveal:      autoReveal,
		WarningAt:       warningAt,
	}
	if mode == model.TimerCountdown {
		state.Remaining = durationSeconds
	}
	if err := e.states.Save(ctx, sessionID, state); err != nil {
		return nil, err
	}
	e.armLocked(sessionID)
	return state, nil
}

// Pause freezes the elapsed-time derivation. Valid only from Running.
// The tick stays armed but becomes a no-op while paused.
func (e *Engine) Pause(ctx context.Context, sessionID string) (*model.TimerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Running || state.Paused {
		return nil, ErrInvalidTransition
	}
	now := e.clock.Now()
	state.Paused = true
	state.PausedAt = &now
	state.Remaining = e.derive(state, now)
	if err := e.states.Save(ctx, sessionID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Resume accumulates the paused interval and unfreezes. Valid only
// from Paused.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*model.TimerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !state.Running || !state.Paused {
		return nil, ErrInvalidTransition
	}
	now := e.clock.Now()
	state.PausedFor += now.Sub(*state.PausedAt)
	state.Paused = false
	state.PausedAt = nil
	if err := e.states.Save(ctx, sessionID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Stop cancels the run from any state and returns the timer to Idle.
func (e *Engine) Stop(ctx context.Context, sessionID string) (*model.TimerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked(sessionID)
	if err := e.states.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	return &model.TimerState{Mode: model.TimerCountdown}, nil
}

// AddTime extends the configured duration mid-run. For countdowns the
// remaining time grows by the same amount; shrinking via a negative
// value never pushes remaining below zero.
func (e *Engine) AddTime(ctx context.Context, sessionID string, seconds int64) (*model.TimerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state.DurationSeconds += seconds
	if state.DurationSeconds < 0 {
		state.DurationSeconds = 0
	}
	if state.Mode == model.TimerCountdown {
		if state.Paused {
			// Remaining is frozen while paused; adjust it directly so
			// the in-progress paused interval does not count as elapsed.
			state.Remaining += seconds
			if state.Remaining < 0 {
				state.Remaining = 0
			}
		} else {
			state.Remaining = e.derive(state, e.clock.Now())
		}
	}
	if err := e.states.Save(ctx, sessionID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Configure updates warning and auto-reveal settings without touching
// the run.
func (e *Engine) Configure(ctx context.Context, sessionID string, autoReveal bool, warningAt int64) (*model.TimerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	state, err := e.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state.AutoReveal = autoReveal
	state.WarningAt = warningAt
	if err := e.states.Save(ctx, sessionID, state); err != nil {
		return nil, err
	}
	return state, nil
}

// Current returns the persisted state with remaining time freshly
// derived, or nil when the session has no timer.
func (e *Engine) Current(ctx context.Context, sessionID string) (*model.TimerState, error) {
	state, err := e.states.Load(ctx, sessionID)
	if err != nil || state == nil {
		return nil, err
	}
	if state.Running && !state.Paused {
		state.Remaining = e.derive(state, e.clock.Now())
	}
	return state, nil
}

// Shutdown cancels every armed tick. Persisted state survives, so the
// next process rehydrates the runs.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for sessionID := range e.ticks {
		e.cancelLocked(sessionID)
	}
}

// Cancel tears down a single session's tick without touching persisted
// state.
func (e *Engine) Cancel(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked(sessionID)
}

// Rehydrate re-arms ticks for every persisted timer still marked
// running and not paused, called once at process start.
func (e *Engine) Rehydrate(ctx context.Context) error {
	all, err := e.states.All(ctx)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for sessionID, state := range all {
		if state.Running && !state.Paused {
			e.armLocked(sessionID)
			log.Info().Str("session_id", sessionID).Msg("rehydrated running timer")
		}
	}
	return nil
}

func (e *Engine) load(ctx context.Context, sessionID string) (*model.TimerState, error) {
	state, err := e.states.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, ErrNoTimer
	}
	return state, nil
}

// derive recomputes remaining time from the wall clock. Countdown
// clamps at zero; stopwatch counts up.
func (e *Engine) derive(state *model.TimerState, now time.Time) int64 {
	if state.StartedAt == nil {
		return state.Remaining
	}
	elapsed := int64((now.Sub(*state.StartedAt) - state.PausedFor).Seconds())
	if state.Mode == model.TimerStopwatch {
		return elapsed
	}
	remaining := state.DurationSeconds - elapsed
	if remaining < 0 {
		return 0
	}
	return remaining
}

// armLocked replaces any existing tick for the session with a fresh
// 1-second recomputation loop. Caller holds e.mu.
func (e *Engine) armLocked(sessionID string) {
	e.cancelLocked(sessionID)
	cancel := make(chan struct{})
	e.ticks[sessionID] = cancel

	go func() {
		ticker := e.clock.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-cancel:
				return
			case <-ticker.Chan():
				if done := e.tick(sessionID); done {
					return
				}
			}
		}
	}()
}

func (e *Engine) cancelLocked(sessionID string) {
	if cancel, ok := e.ticks[sessionID]; ok {
		close(cancel)
		delete(e.ticks, sessionID)
	}
}

// tick recomputes remaining time and persists it. Returns true when
// the tick loop should stop.
func (e *Engine) tick(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	ctx := context.Background()
	state, err := e.states.Load(ctx, sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("timer tick load failed")
		return false
	}
	if state == nil || !state.Running {
		delete(e.ticks, sessionID)
		return true
	}
	if state.Paused {
		return false
	}

	state.Remaining = e.derive(state, e.clock.Now())
	completed := state.Mode == model.TimerCountdown && state.Remaining == 0
	if completed {
		state.Running = false
	}
	if err := e.states.Save(ctx, sessionID, state); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("timer tick save failed")
		return false
	}
	e.emit(Event{SessionID: sessionID, State: *state, Completed: completed})
	if completed {
		delete(e.ticks, sessionID)
	}
	return completed
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("session_id", ev.SessionID).Msg("timer event channel full, dropping event")
	}
}
