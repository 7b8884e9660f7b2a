package model

import "time"

type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemVoting    ItemStatus = "voting"
	ItemCompleted ItemStatus = "completed"
)

// Item is one unit of work being estimated.
type Item struct {
	ID            string     `json:"id" bson:"_id"`
	SessionID     string     `json:"sessionId" bson:"sessionId"`
	Title         string     `json:"title" bson:"title"`
	Description   string     `json:"description,omitempty" bson:"description,omitempty"`
	Status        ItemStatus `json:"status" bson:"status"`
	FinalEstimate string     `json:"finalEstimate,omitempty" bson:"finalEstimate,omitempty"`
	Order         int        `json:"order" bson:"order"`
	CreatedAt     time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt" bson:"updatedAt"`
}
