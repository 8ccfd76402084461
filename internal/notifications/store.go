package notifications

import (
	"log/slog"
	"sync"

	"aurora-dashboard/pkg/logger"
)

// CustomerResolver reports the customer whose notifications the store holds.
type CustomerResolver func() (int64, bool)

// MaxHistory bounds the history; the oldest entries are dropped first.
const MaxHistory = 500

const updateBuffer = 16

// Store holds the current notification and the history for one customer.
//
// Invariants:
// - only notifications whose customer matches the resolver are accepted.
// - ids are unique within the history.
type Store struct {
	resolve CustomerResolver
	log     *slog.Logger

	mu      sync.Mutex
	current *Notification
	history []Notification
	subs    map[chan Update]struct{}
	closed  bool
}

func NewStore(resolve CustomerResolver, log *slog.Logger) *Store {
	return &Store{
		resolve: resolve,
		log:     logger.OrDefault(log),
		subs:    make(map[chan Update]struct{}),
	}
}

// Add accepts n as the current notification and appends it to the history.
// It rejects n when no customer is resolved, when n belongs to another
// customer, or when its id was already seen.
func (s *Store) Add(n Notification) bool {
	customerID, ok := s.resolve()
	if !ok {
		s.log.Debug("no customer resolved; dropping notification", "event_id", n.ID)
		return false
	}
	if n.CustomerID != customerID {
		s.log.Warn("notification customer mismatch", "customer_id", customerID, "event_customer_id", n.CustomerID, "event_id", n.ID)
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.history {
		if h.ID == n.ID {
			s.log.Warn("duplicate notification", "customer_id", customerID, "event_id", n.ID)
			return false
		}
	}
	cur := n
	s.current = &cur
	s.history = append(s.history, n)
	if over := len(s.history) - MaxHistory; over > 0 {
		s.history = append([]Notification(nil), s.history[over:]...)
	}
	s.publishLocked(Update{Kind: UpdateAdded, Notification: &cur})
	return true
}

// ClearCurrent dismisses the current notification; history is kept.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.current = nil
	s.publishLocked(Update{Kind: UpdateCurrentCleared})
}

func (s *Store) Current() (Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Notification{}, false
	}
	return *s.current, true
}

// History returns the notifications in arrival order.
func (s *Store) History() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.history))
	copy(out, s.history)
	return out
}

// Remove drops one notification from the history, and from current when it
// is the one shown.
func (s *Store) Remove(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, h := range s.history {
		if h.ID != id {
			continue
		}
		s.history = append(s.history[:i], s.history[i+1:]...)
		if s.current != nil && s.current.ID == id {
			s.current = nil
		}
		s.publishLocked(Update{Kind: UpdateRemoved, Notification: &h})
		return true
	}
	return false
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.history = nil
	s.publishLocked(Update{Kind: UpdateCleared})
}

// Updates subscribes to store changes. Slow subscribers miss updates rather
// than block the store. cancel must be called to release the subscription.
func (s *Store) Updates() (<-chan Update, func()) {
	ch := make(chan Update, updateBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
	}
}

// Close ends every Updates subscription. The store stays readable.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
	}
}

// Subscribers reports the open Updates subscriptions.
func (s *Store) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *Store) publishLocked(u Update) {
	for ch := range s.subs {
		select {
		case ch <- u:
		default:
			s.log.Debug("notification subscriber lagging; update dropped", "kind", u.Kind)
		}
	}
}
