package notifications

import (
	"encoding/json"
	"time"

	"aurora-dashboard/internal/events"
)

// Notification is a webhook event as shown to the dashboard, with its
// payload summary resolved once on arrival.
type Notification struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	CallID     *string         `json:"call_id,omitempty"`
	CallType   *string         `json:"call_type,omitempty"`
	Summary    string          `json:"summary"`
}

func FromEvent(e events.Event) Notification {
	return Notification{
		ID:         e.ID,
		CustomerID: e.CustomerID,
		EventType:  e.EventType,
		Payload:    e.Payload,
		CreatedAt:  e.CreatedAt,
		CallID:     e.CallID,
		CallType:   e.CallType,
		Summary:    Summary(e.Payload),
	}
}

type UpdateKind string

const (
	UpdateAdded          UpdateKind = "added"
	UpdateCurrentCleared UpdateKind = "current_cleared"
	UpdateRemoved        UpdateKind = "removed"
	UpdateCleared        UpdateKind = "cleared"
)

// Update is one store change as streamed to subscribers.
// Notification is set for added and removed.
type Update struct {
	Kind         UpdateKind    `json:"kind"`
	Notification *Notification `json:"notification,omitempty"`
}
