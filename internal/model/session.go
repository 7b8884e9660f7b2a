package model

import "time"

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionEnded  SessionStatus = "ended"
)

// Deck presets selectable at session creation.
var (
	DeckFibonacci = []string{"1", "2", "3", "5", "8", "13", "21", "?", "coffee"}
	DeckTShirt    = []string{"XS", "S", "M", "L", "XL", "?", "coffee"}
)

// DeckByName resolves a preset name, defaulting to fibonacci.
func DeckByName(name string) []string {
	switch name {
	case "tshirt":
		return DeckTShirt
	default:
		return DeckFibonacci
	}
}

// Session is the durable record for one estimation meeting.
type Session struct {
	ID           string        `json:"id" bson:"_id"`
	Title        string        `json:"title" bson:"title"`
	HostPlayerID string        `json:"hostPlayerId" bson:"hostPlayerId"`
	Deck         []string      `json:"deck" bson:"deck"`
	Status       SessionStatus `json:"status" bson:"status"`
	CreatedAt    time.Time     `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt" bson:"updatedAt"`
}

// InDeck reports whether a card value belongs to the session's deck.
func (s *Session) InDeck(value string) bool {
	for _, v := range s.Deck {
		if v == value {
			return true
		}
	}
	return false
}
