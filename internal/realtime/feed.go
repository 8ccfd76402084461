package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"aurora-dashboard/internal/events"
)

// Subscription delivers inserted events for one customer channel until closed.
// C is closed when the subscription ends, whether by Close or feed failure.
type Subscription interface {
	C() <-chan events.Event
	Close() error
}

// Feed opens change-feed subscriptions scoped by customer id. Scoping is by
// channel name, so a feed never needs to see other customers' rows; the
// Listener still re-checks every event.
type Feed interface {
	Subscribe(ctx context.Context, customerID int64) (Subscription, error)
}

const subscriptionBuffer = 16

// notification is the wire form of a change-feed message. Rows whose JSON
// exceeds the notify size limit arrive without payload and truncated=true.
type notification struct {
	events.Event
	Truncated bool `json:"truncated,omitempty"`
}

func decodeNotification(raw string) (notification, error) {
	var n notification
	if err := json.Unmarshal([]byte(raw), &n); err != nil {
		return notification{}, fmt.Errorf("realtime: decode notification: %w", err)
	}
	return n, nil
}
