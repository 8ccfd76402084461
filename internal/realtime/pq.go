package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"aurora-dashboard/internal/events"
	"aurora-dashboard/pkg/logger"
)

// PQConfig configures the Postgres LISTEN/NOTIFY feed.
type PQConfig struct {
	DSN string

	MinReconnect time.Duration
	MaxReconnect time.Duration
	PingInterval time.Duration

	// Fetch loads a full row when a notification arrives truncated.
	Fetch  func(ctx context.Context, id int64) (events.Event, error)
	Logger *slog.Logger
}

// PQFeed listens on user_events_<customer> channels fed by the
// user_events_notify trigger. Each subscription owns one listener connection.
type PQFeed struct {
	cfg PQConfig
	log *slog.Logger
}

func NewPQFeed(cfg PQConfig) *PQFeed {
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = 10 * time.Second
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = time.Minute
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 90 * time.Second
	}
	return &PQFeed{cfg: cfg, log: logger.OrDefault(cfg.Logger)}
}

func (f *PQFeed) Subscribe(_ context.Context, customerID int64) (Subscription, error) {
	channel := events.Channel(customerID)
	log := f.log.With("channel", channel)

	l := pq.NewListener(f.cfg.DSN, f.cfg.MinReconnect, f.cfg.MaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn("change feed connection event", "event", int(ev), "err", err)
		}
	})
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("realtime: listen %s: %w", channel, err)
	}

	s := &pqSub{
		l:     l,
		out:   make(chan events.Event, subscriptionBuffer),
		done:  make(chan struct{}),
		fetch: f.cfg.Fetch,
		log:   log,
	}
	go s.run(f.cfg.PingInterval)
	return s, nil
}

type pqSub struct {
	l     *pq.Listener
	out   chan events.Event
	done  chan struct{}
	once  sync.Once
	fetch func(ctx context.Context, id int64) (events.Event, error)
	log   *slog.Logger
}

func (s *pqSub) C() <-chan events.Event { return s.out }

func (s *pqSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.l.Close()
	})
	return err
}

func (s *pqSub) run(pingInterval time.Duration) {
	defer close(s.out)
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-s.done:
			return
		case n, ok := <-s.l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// Reconnected; anything sent while down is lost.
				s.log.Info("change feed reconnected")
				continue
			}
			e, ok := s.resolve(n.Extra)
			if !ok {
				continue
			}
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		case <-ping.C:
			if err := s.l.Ping(); err != nil {
				s.log.Warn("change feed ping failed", "err", err)
			}
		}
	}
}

func (s *pqSub) resolve(raw string) (events.Event, bool) {
	n, err := decodeNotification(raw)
	if err != nil {
		s.log.Warn("dropping undecodable notification", "err", err)
		return events.Event{}, false
	}
	if !n.Truncated || s.fetch == nil {
		return n.Event, true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	full, err := s.fetch(ctx, n.ID)
	if err != nil {
		s.log.Warn("fetch truncated event failed; delivering without payload", "event_id", n.ID, "err", err)
		return n.Event, true
	}
	return full, true
}
