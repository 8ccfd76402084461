package synclog

import (
	"time"

	"github.com/google/uuid"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

type Status string

const (
	StatusOK      Status = "ok"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Run is one synchronization attempt for a customer. Runs are append-only.
type Run struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CustomerID int64     `gorm:"not null;index:idx_sync_runs_customer_started,priority:1" json:"customer_id"`
	Trigger    Trigger   `gorm:"type:text;not null" json:"trigger"`
	Synced     int       `gorm:"not null;default:0" json:"synced"`
	NewCalls   int       `gorm:"column:new_calls;not null;default:0" json:"new"`
	Backfilled int       `gorm:"not null;default:0" json:"backfilled"`
	Status     Status    `gorm:"type:text;not null" json:"status"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	StartedAt  time.Time `gorm:"not null;index:idx_sync_runs_customer_started,priority:2,sort:desc" json:"started_at"`
	FinishedAt time.Time `gorm:"not null" json:"finished_at"`
}

func (Run) TableName() string { return "sync_runs" }

// Duration is how long the run took.
func (r Run) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }
