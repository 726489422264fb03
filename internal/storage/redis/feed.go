package redis

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
)

// Subscribe opens a Redis SUBSCRIBE on the channel for filter and waits for
// the server's confirmation. The receive loop ends on the first error, which
// is reported through OnError; there is no automatic reconnect.
func (s *Storage) Subscribe(ctx context.Context, filter feed.Filter, listener feed.Listener) (feed.Subscription, error) {
	op := "subscribe " + filter.String()

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, model.ChannelError(op, model.ErrChannelClosed)
	}

	channel := changesChannel(filter)
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, model.ChannelError(op, err)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := &subscription{
		storage:  s,
		filter:   filter,
		listener: listener,
		pubsub:   pubsub,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		_ = pubsub.Close()
		return nil, model.ChannelError(op, model.ErrChannelClosed)
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	go sub.run(loopCtx)

	s.logger.Debug("feed subscribed", slog.String("channel", channel))
	return sub, nil
}

func (s *Storage) removeSubscription(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

type subscription struct {
	storage  *Storage
	filter   feed.Filter
	listener feed.Listener
	pubsub   *redis.PubSub
	cancel   context.CancelFunc
	done     chan struct{}

	mu           sync.Mutex
	unsubscribed bool
}

func (sub *subscription) run(ctx context.Context) {
	defer close(sub.done)
	defer sub.cancel()

	for {
		msg, err := sub.pubsub.ReceiveMessage(ctx)
		if err != nil {
			sub.fail(err)
			return
		}

		change, err := feed.Decode([]byte(msg.Payload))
		if err != nil {
			sub.storage.logger.Warn("dropping malformed change",
				slog.String("channel", msg.Channel),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !sub.filter.Matches(change) {
			continue
		}
		if sub.isUnsubscribed() {
			return
		}
		if sub.listener.OnChange != nil {
			sub.listener.OnChange(change)
		}
	}
}

func (sub *subscription) fail(err error) {
	if sub.isUnsubscribed() {
		return
	}
	sub.storage.removeSubscription(sub)

	sub.storage.mu.Lock()
	closed := sub.storage.closed
	sub.storage.mu.Unlock()
	if closed {
		err = model.ErrChannelClosed
	}

	sub.storage.logger.Warn("feed channel failed",
		slog.String("filter", sub.filter.String()),
		slog.String("error", err.Error()),
	)
	if sub.listener.OnError != nil {
		sub.listener.OnError(model.ChannelError("feed "+sub.filter.String(), err))
	}
}

func (sub *subscription) isUnsubscribed() bool {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.unsubscribed
}

// Unsubscribe stops delivery and releases the pub/sub connection
func (sub *subscription) Unsubscribe() error {
	sub.mu.Lock()
	if sub.unsubscribed {
		sub.mu.Unlock()
		return nil
	}
	sub.unsubscribed = true
	sub.mu.Unlock()

	sub.storage.removeSubscription(sub)
	sub.cancel()
	return sub.pubsub.Close()
}
