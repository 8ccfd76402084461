package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"aurora-dashboard/internal/events"
	"aurora-dashboard/pkg/logger"
)

// RedisFeed subscribes to the channels events.RedisPublisher writes to.
type RedisFeed struct {
	rdb redis.UniversalClient
	log *slog.Logger
}

func NewRedisFeed(rdb redis.UniversalClient, log *slog.Logger) *RedisFeed {
	return &RedisFeed{rdb: rdb, log: logger.OrDefault(log)}
}

func (f *RedisFeed) Subscribe(ctx context.Context, customerID int64) (Subscription, error) {
	channel := events.Channel(customerID)
	ps := f.rdb.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so failures surface here.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("realtime: subscribe %s: %w", channel, err)
	}

	s := &redisSub{ps: ps, out: make(chan events.Event, subscriptionBuffer), done: make(chan struct{})}
	go s.run(f.log.With("channel", channel))
	return s, nil
}

type redisSub struct {
	ps   *redis.PubSub
	out  chan events.Event
	done chan struct{}
	once sync.Once
}

func (s *redisSub) C() <-chan events.Event { return s.out }

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

// run ends when Close closes the pub/sub message channel.
func (s *redisSub) run(log *slog.Logger) {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		n, err := decodeNotification(msg.Payload)
		if err != nil {
			log.Warn("dropping undecodable message", "err", err)
			continue
		}
		select {
		case s.out <- n.Event:
		case <-s.done:
			return
		}
	}
}
