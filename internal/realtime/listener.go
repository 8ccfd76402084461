package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"aurora-dashboard/internal/events"
	"aurora-dashboard/pkg/logger"
)

const DefaultRetryInterval = 5 * time.Second

var (
	ErrAlreadyStarted    = errors.New("realtime: listener already started")
	ErrInvalidCustomerID = errors.New("realtime: invalid customer id")
)

// Sink receives events that passed the customer check.
type Sink func(events.Event)

type ListenerConfig struct {
	Feed Feed

	// SubscribeDelay postpones the first subscription after Start. Zero subscribes at once.
	SubscribeDelay time.Duration
	// RetryInterval spaces resubscription attempts after a feed failure.
	RetryInterval time.Duration

	Logger *slog.Logger
}

// Listener keeps one customer-scoped subscription alive and forwards its
// events to a sink. Events for any other customer are dropped.
type Listener struct {
	cfg ListenerConfig
	log *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewListener(cfg ListenerConfig) *Listener {
	if cfg.SubscribeDelay < 0 {
		cfg.SubscribeDelay = 0
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = DefaultRetryInterval
	}
	return &Listener{cfg: cfg, log: logger.OrDefault(cfg.Logger)}
}

// Start begins listening in the background. It returns immediately; the
// subscription is opened after SubscribeDelay.
func (l *Listener) Start(ctx context.Context, customerID int64, sink Sink) error {
	if customerID <= 0 {
		return ErrInvalidCustomerID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, customerID, sink, l.done)
	return nil
}

// Stop cancels the listener and waits until its subscription is released.
// It is safe to call more than once.
func (l *Listener) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (l *Listener) run(ctx context.Context, customerID int64, sink Sink, done chan struct{}) {
	defer close(done)
	log := l.log.With("customer_id", customerID)

	if l.cfg.SubscribeDelay > 0 {
		timer := time.NewTimer(l.cfg.SubscribeDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := backoff.NewTicker(backoff.NewConstantBackOff(l.cfg.RetryInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sub, err := l.cfg.Feed.Subscribe(ctx, customerID)
		if err != nil {
			log.Warn("subscribe to change feed failed; retrying", "err", err)
			continue
		}
		log.Debug("subscribed to change feed")
		l.consume(ctx, sub, customerID, sink, log)
		if err := sub.Close(); err != nil {
			log.Debug("close subscription", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("change feed subscription ended; resubscribing")
	}
}

func (l *Listener) consume(ctx context.Context, sub Subscription, customerID int64, sink Sink, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			if e.CustomerID != customerID {
				log.Warn("dropping event for another customer", "event_customer_id", e.CustomerID, "event_id", e.ID)
				continue
			}
			sink(e)
		}
	}
}
