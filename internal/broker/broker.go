// Package broker fans out committed game events over Redis pub/sub.
// Delivery is fire-and-forget: a mutation never fails because nobody
// heard about it.
package broker

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neevan0842/chess-arena/internal/game"
)

type RedisBroker struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewRedisBroker(rdb *redis.Client, logger *zap.Logger) *RedisBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroker{rdb: rdb, logger: logger}
}

func channelFor(gameID string) string {
	return "game:" + gameID + ":events"
}

// Publish sends one event to the session's channel. Subscriber count is
// not checked; an event with no listeners is simply dropped by Redis.
func (b *RedisBroker) Publish(ctx context.Context, ev game.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, channelFor(ev.GameID), payload).Err()
}

// Subscription is one observer's feed for a single session. Events()
// closes when the subscription is closed or the connection drops.
type Subscription struct {
	ps     *redis.PubSub
	events chan game.Event
}

func (s *Subscription) Events() <-chan game.Event { return s.events }

func (s *Subscription) Close() error { return s.ps.Close() }

// Subscribe opens a feed for the session's channel. Payloads that do not
// decode as events are logged and skipped so one bad producer cannot
// wedge every observer.
func (b *RedisBroker) Subscribe(ctx context.Context, gameID string) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channelFor(gameID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	sub := &Subscription{
		ps:     ps,
		events: make(chan game.Event, 16),
	}

	go func() {
		defer close(sub.events)
		for msg := range ps.Channel() {
			var ev game.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("event_decode_failed",
					zap.String("game_id", gameID),
					zap.Error(err),
				)
				continue
			}
			select {
			case sub.events <- ev:
			default:
				// A stalled observer loses events; blocking here would
				// keep the pump alive after Close.
				b.logger.Warn("event_dropped",
					zap.String("game_id", gameID),
					zap.String("type", string(ev.Type)),
				)
			}
		}
	}()

	return sub, nil
}
