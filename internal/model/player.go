package model

import "time"

// Player represents a participant in a session.
type Player struct {
	ID           string    `json:"id" bson:"_id"`
	SessionID    string    `json:"sessionId" bson:"sessionId"`
	Name         string    `json:"name" bson:"name"`
	Avatar       string    `json:"avatar" bson:"avatar"`
	Spectator    bool      `json:"spectator" bson:"spectator"`
	JoinedAt     time.Time `json:"joinedAt" bson:"joinedAt"`
	LastActiveAt time.Time `json:"lastActiveAt" bson:"lastActiveAt"`
}

// PlayerView is the shape of a player inside session live state and
// outbound events. Online is derived from presence, never persisted.
type PlayerView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Avatar    string `json:"avatar,omitempty"`
	Spectator bool   `json:"spectator"`
	IsHost    bool   `json:"isHost"`
	Online    bool   `json:"online"`
}
