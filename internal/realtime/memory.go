package realtime

import (
	"context"
	"sync"

	"aurora-dashboard/internal/events"
)

// MemoryFeed is an in-process feed for tests and single-instance local runs.
// It also satisfies events.Publisher, so appended events reach subscribers.
type MemoryFeed struct {
	mu   sync.Mutex
	subs map[int64]map[*memorySub]struct{}
}

func NewMemoryFeed() *MemoryFeed {
	return &MemoryFeed{subs: make(map[int64]map[*memorySub]struct{})}
}

func (f *MemoryFeed) Subscribe(_ context.Context, customerID int64) (Subscription, error) {
	s := &memorySub{feed: f, customerID: customerID, ch: make(chan events.Event, subscriptionBuffer)}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[customerID] == nil {
		f.subs[customerID] = make(map[*memorySub]struct{})
	}
	f.subs[customerID][s] = struct{}{}
	return s, nil
}

// Publish delivers e on its customer's channel.
func (f *MemoryFeed) Publish(_ context.Context, e events.Event) error {
	f.Broadcast(e.CustomerID, e)
	return nil
}

// Broadcast delivers e to every subscriber of customerID's channel as is.
// Full subscriber buffers drop the event.
func (f *MemoryFeed) Broadcast(customerID int64, e events.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs[customerID] {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribers reports the open subscriptions for customerID.
func (f *MemoryFeed) Subscribers(customerID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs[customerID])
}

type memorySub struct {
	feed       *MemoryFeed
	customerID int64
	ch         chan events.Event
	once       sync.Once
}

func (s *memorySub) C() <-chan events.Event { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.feed.mu.Lock()
		defer s.feed.mu.Unlock()
		delete(s.feed.subs[s.customerID], s)
		if len(s.feed.subs[s.customerID]) == 0 {
			delete(s.feed.subs, s.customerID)
		}
		close(s.ch)
	})
	return nil
}
