package model

import "time"

// SessionState is the shared live snapshot of a session, kept in the
// state store and mirrored to every connected client. The reveal flag
// is forced false whenever the active item changes.
type SessionState struct {
	SessionID    string       `json:"sessionId"`
	Players      []PlayerView `json:"players"`
	ActiveItemID string       `json:"activeItemId,omitempty"`
	Revealed     bool         `json:"revealed"`
	Timer        *TimerState  `json:"timer,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// FindPlayer returns the index of a player in the ordered list, or -1.
func (s *SessionState) FindPlayer(playerID string) int {
	for i, p := range s.Players {
		if p.ID == playerID {
			return i
		}
	}
	return -1
}

// RemovePlayer drops a player from the ordered list, preserving order.
func (s *SessionState) RemovePlayer(playerID string) {
	if i := s.FindPlayer(playerID); i >= 0 {
		s.Players = append(s.Players[:i], s.Players[i+1:]...)
	}
}
