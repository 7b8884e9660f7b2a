package model

import "time"

type TimerMode string

const (
	TimerCountdown TimerMode = "countdown"
	TimerStopwatch TimerMode = "stopwatch"
)

// TimerState is the full persisted state of a session timer. Remaining
// is always recomputed from StartedAt and PausedFor, never advanced
// independently, so a rehydrated process derives the same value.
type TimerState struct {
	Mode            TimerMode  `json:"mode"`
	Running         bool       `json:"running"`
	Paused          bool       `json:"paused"`
	DurationSeconds int64      `json:"durationSeconds"`
	Remaining       int64      `json:"remaining"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	PausedAt        *time.Time `json:"pausedAt,omitempty"`
	// PausedFor accumulates full pause intervals at nanosecond
	// precision; truncating per interval would under-count repeated
	// short pauses.
	PausedFor  time.Duration `json:"pausedFor"`
	WarningAt  int64         `json:"warningAt,omitempty"`
	AutoReveal bool          `json:"autoReveal"`
}
