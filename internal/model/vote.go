package model

import "time"

// Vote is one player's estimate for one item. At most one vote exists
// per (item, player); resubmission overwrites.
type Vote struct {
	ID        string    `json:"id" bson:"_id"`
	SessionID string    `json:"sessionId" bson:"sessionId"`
	ItemID    string    `json:"itemId" bson:"itemId"`
	PlayerID  string    `json:"playerId" bson:"playerId"`
	Value     string    `json:"value" bson:"value"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// RevealedVote is the wire shape of a vote once the reveal flag is set.
type RevealedVote struct {
	PlayerID   string `json:"playerId"`
	PlayerName string `json:"playerName"`
	Value      string `json:"value"`
}
