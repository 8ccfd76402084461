package events

import (
	"encoding/json"
	"strconv"
	"time"
)

// Event is an append-only webhook record from the user_events table.
//
// Invariants:
// - Events are never updated or deleted.
// - customer_id is required; delivery is scoped by it.
// - payload is opaque JSON and may itself be a JSON string.
//
// The JSON shape matches row_to_json(user_events) so change-feed
// notifications decode straight into it.
type Event struct {
	ID         int64           `json:"id"`
	CustomerID int64           `json:"customer_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	CallID     *string         `json:"call_id,omitempty"`
	CallType   *string         `json:"call_type,omitempty"`
}

// Channel is the change-feed channel carrying one customer's inserts.
func Channel(customerID int64) string {
	return "user_events_" + strconv.FormatInt(customerID, 10)
}
