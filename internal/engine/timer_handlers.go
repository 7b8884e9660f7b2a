package engine

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/DanielEskinazi/pointing-poker-sub001/internal/model"
	"github.com/DanielEskinazi/pointing-poker-sub001/internal/timer"
)

// handleTimer routes the timer actions. All host only; the resulting
// state is broadcast as a timer-updated event so every client stays in
// step. Periodic ticks are broadcast separately by Run.
func (e *Engine) handleTimer(ctx context.Context, client *Client, kind ActionKind, raw json.RawMessage) error {
	if _, err := e.requireHost(ctx, client); err != nil {
		return err
	}
	var p TimerPayload
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return reject(CodeBadRequest, "malformed timer payload")
		}
	}

	var (
		state *model.TimerState
		err   error
	)
	switch kind {
	case ActionTimerStart:
		if p.DurationSeconds <= 0 && p.Mode != string(model.TimerStopwatch) {
			return reject(CodeBadRequest, "durationSeconds must be positive")
		}
		mode := model.TimerCountdown
		if p.Mode == string(model.TimerStopwatch) {
			mode = model.TimerStopwatch
		}
		state, err = e.timers.Start(ctx, client.SessionID, p.DurationSeconds, mode, p.AutoReveal, p.WarningAt)
	case ActionTimerStop, ActionTimerReset:
		state, err = e.timers.Stop(ctx, client.SessionID)
	case ActionTimerPause:
		state, err = e.timers.Pause(ctx, client.SessionID)
	case ActionTimerResume:
		state, err = e.timers.Resume(ctx, client.SessionID)
	case ActionTimerAddTime, ActionTimerAdjust:
		if p.Seconds == 0 {
			return reject(CodeBadRequest, "seconds must be non-zero")
		}
		state, err = e.timers.AddTime(ctx, client.SessionID, p.Seconds)
	case ActionTimerConfigure:
		state, err = e.timers.Configure(ctx, client.SessionID, p.AutoReveal, p.WarningAt)
	}

	switch {
	case errors.Is(err, timer.ErrNoTimer):
		return reject(CodeNotFound, "no timer is running")
	case errors.Is(err, timer.ErrInvalidTransition):
		return reject(CodeTimerInvalid, "timer is not in a state allowing that")
	case err != nil:
		return err
	}

	e.broadcast(ctx, client.SessionID, EventTimerUpdated, TimerEventPayload{Timer: *state})
	return nil
}
