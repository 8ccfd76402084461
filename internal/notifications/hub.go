package notifications

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"aurora-dashboard/internal/events"
	"aurora-dashboard/internal/realtime"
	"aurora-dashboard/pkg/logger"
)

type HubConfig struct {
	Feed           realtime.Feed
	SubscribeDelay time.Duration
	RetryInterval  time.Duration
	Logger         *slog.Logger
}

// Hub owns one Store and one Listener per customer. Entries are created on
// first use and live until Close.
type Hub struct {
	cfg HubConfig
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	entries map[int64]*hubEntry
	closed  bool
}

type hubEntry struct {
	store    *Store
	listener *realtime.Listener
}

func NewHub(cfg HubConfig) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		cfg:     cfg,
		log:     logger.OrDefault(cfg.Logger),
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[int64]*hubEntry),
	}
}

// Store returns the customer's store, starting its listener on first use.
func (h *Hub) Store(customerID int64) (*Store, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if e, ok := h.entries[customerID]; ok {
		return e.store, nil
	}
	if h.closed {
		return nil, context.Canceled
	}

	log := h.log.With("customer_id", customerID)
	store := NewStore(func() (int64, bool) { return customerID, true }, log)
	listener := realtime.NewListener(realtime.ListenerConfig{
		Feed:           h.cfg.Feed,
		SubscribeDelay: h.cfg.SubscribeDelay,
		RetryInterval:  h.cfg.RetryInterval,
		Logger:         log,
	})
	sink := func(e events.Event) { store.Add(FromEvent(e)) }
	if err := listener.Start(h.ctx, customerID, sink); err != nil {
		return nil, err
	}
	h.entries[customerID] = &hubEntry{store: store, listener: listener}
	return store, nil
}

// Close stops every listener, waits for their subscriptions to be released
// and ends open update streams.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	entries := h.entries
	h.entries = make(map[int64]*hubEntry)
	h.mu.Unlock()

	h.cancel()
	for _, e := range entries {
		e.listener.Stop()
		e.store.Close()
	}
}
