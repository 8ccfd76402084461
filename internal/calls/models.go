package calls

import (
	"encoding/json"
	"time"
)

// CallLog is the local mirror of one remote call plus derived fields.
//
// Invariant: (CustomerID, RemoteCallID) is unique. Rows are created once by the
// sync engine; only a null Duration is ever updated afterwards, and rows are never deleted.
type CallLog struct {
	ID           int64  `json:"id" db:"id"`
	RemoteCallID string `json:"remote_call_id" db:"remote_call_id"`
	CustomerID   int64  `json:"customer_id" db:"customer_id"`

	Status string `json:"status,omitempty" db:"status"`
	Type   string `json:"type,omitempty" db:"type"`

	StartedAt *time.Time `json:"started_at" db:"started_at"`
	CreatedAt *time.Time `json:"created_at" db:"created_at"`

	// Duration in seconds; nil until derived or backfilled.
	Duration *int     `json:"duration" db:"duration"`
	Cost     *float64 `json:"cost" db:"cost"`

	CustomerNumber string  `json:"customer_number,omitempty" db:"customer_number"`
	EndedReason    string  `json:"ended_reason,omitempty" db:"ended_reason"`
	Summary        *string `json:"summary" db:"summary"`
	RecordingURL   *string `json:"recording_url" db:"recording_url"`

	Transcript json.RawMessage `json:"transcript,omitempty" db:"transcript"`
	Messages   json.RawMessage `json:"messages,omitempty" db:"messages"`
	Artifact   json.RawMessage `json:"artifact,omitempty" db:"artifact"`

	AssistantID string    `json:"assistant_id,omitempty" db:"assistant_id"`
	SyncedAt    time.Time `json:"synced_at" db:"synced_at"`
}

// Remote call statuses as reported by the voice platform.
const (
	StatusQueued     = "queued"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusForwarding = "forwarding"
	StatusEnded      = "ended"
)

// Call types.
const (
	TypeInboundPhone  = "inboundPhoneCall"
	TypeOutboundPhone = "outboundPhoneCall"
	TypeWeb           = "webCall"
)
