package models

import "time"

const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// ValidPriority reports whether p is one of the known priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Notification is the persisted record of a dispatched event. A record is
// created once by the dispatcher and afterwards only its read state changes.
type Notification struct {
	ID          string                 `json:"id" dynamodbav:"id"`
	RecipientID string                 `json:"recipient_id" dynamodbav:"recipient_id"`
	Title       string                 `json:"title" dynamodbav:"title"`
	Message     string                 `json:"message" dynamodbav:"message"`
	Category    string                 `json:"category" dynamodbav:"category"`
	Data        map[string]interface{} `json:"data,omitempty" dynamodbav:"data,omitempty"`
	Priority    string                 `json:"priority" dynamodbav:"priority"`
	IsRead      bool                   `json:"is_read" dynamodbav:"is_read"`
	ReadAt      *time.Time             `json:"read_at,omitempty" dynamodbav:"read_at,omitempty"`
	CreatedAt   time.Time              `json:"created_at" dynamodbav:"created_at"`
}

// Event is the JSON shape pushed over the realtime channel.
type Event struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Category  string    `json:"category"`
	Priority  string    `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
}

// AsEvent projects the record into its realtime payload.
func (n *Notification) AsEvent() Event {
	return Event{
		ID:        n.ID,
		Title:     n.Title,
		Message:   n.Message,
		Category:  n.Category,
		Priority:  n.Priority,
		CreatedAt: n.CreatedAt,
	}
}
