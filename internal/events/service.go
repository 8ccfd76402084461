package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"aurora-dashboard/pkg/logger"
)

// Repository is the persistence contract for webhook events.
//
// It MUST be append-only: Append assigns the id and returns the stored row.
type Repository interface {
	Append(ctx context.Context, e Event) (Event, error)
	Get(ctx context.Context, id int64) (Event, error)
}

// Publisher pushes a stored event to a change feed. Postgres deployments
// rely on the insert trigger instead and leave it nil.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

var (
	ErrInvalidEvent = errors.New("events: invalid event")
	ErrNotFound     = errors.New("events: not found")
)

type Config struct {
	Publisher Publisher
	Clock     func() time.Time
	Logger    *slog.Logger
}

type Service struct {
	repo  Repository
	pub   Publisher
	clock func() time.Time
	log   *slog.Logger
}

func NewService(repo Repository, cfg Config) *Service {
	s := &Service{repo: repo, pub: cfg.Publisher, clock: cfg.Clock, log: logger.OrDefault(cfg.Logger)}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Append stores a webhook event. Publishing is best-effort: a failure is
// logged and the stored event is still returned.
func (s *Service) Append(ctx context.Context, e Event) (Event, error) {
	if s.repo == nil {
		return Event{}, errors.New("events: repository not configured")
	}
	e.EventType = strings.TrimSpace(e.EventType)
	if e.CustomerID <= 0 || e.EventType == "" {
		return Event{}, ErrInvalidEvent
	}
	if len(e.Payload) == 0 {
		e.Payload = json.RawMessage("null")
	}
	if !json.Valid(e.Payload) {
		return Event{}, ErrInvalidEvent
	}
	e.CallID = trimOrNil(e.CallID)
	e.CallType = trimOrNil(e.CallType)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}

	stored, err := s.repo.Append(ctx, e)
	if err != nil {
		return Event{}, err
	}
	if s.pub != nil {
		if err := s.pub.Publish(ctx, stored); err != nil {
			s.log.Warn("publish event failed", "customer_id", stored.CustomerID, "event_id", stored.ID, "err", err)
		}
	}
	return stored, nil
}

func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
