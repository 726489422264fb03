package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/pvg/internal/model"
)

// Broker is an in-process ChangeFeed. Publishers call Publish after each
// commit; every matching subscription gets its own delivery goroutine and an
// unbounded queue, so a slow listener never loses or reorders events.
type Broker struct {
	mu     sync.Mutex
	subs   map[uint64]*brokerSub
	nextID uint64
	closed bool
	logger *slog.Logger
}

// NewBroker creates an open broker
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		subs:   make(map[uint64]*brokerSub),
		logger: logger.With(slog.String("component", "feed")),
	}
}

// Ensure Broker implements ChangeFeed
var _ ChangeFeed = (*Broker)(nil)

// Subscribe registers a listener for changes matching filter
func (b *Broker) Subscribe(_ context.Context, filter Filter, listener Listener) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, model.ChannelError("subscribe "+filter.String(), model.ErrChannelClosed)
	}

	b.nextID++
	sub := &brokerSub{
		id:       b.nextID,
		broker:   b,
		filter:   filter,
		listener: listener,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go sub.run()

	b.logger.Debug("feed subscribed", slog.String("filter", filter.String()))
	return sub, nil
}

// Publish enqueues a committed change for every matching subscription
func (b *Broker) Publish(c Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		if sub.filter.Matches(c) {
			sub.enqueue(c)
		}
	}
}

// Close fails every live subscription with a channel error and rejects new ones
func (b *Broker) Close() {
	b.mu.Lock()
	subs := b.subs
	b.subs = make(map[uint64]*brokerSub)
	b.closed = true
	b.mu.Unlock()

	for _, sub := range subs {
		sub.fail(model.ChannelError("feed "+sub.filter.String(), model.ErrChannelClosed))
	}
}

// SubscriptionCount returns the number of live subscriptions
func (b *Broker) SubscriptionCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *Broker) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

type brokerSub struct {
	id       uint64
	broker   *Broker
	filter   Filter
	listener Listener

	mu      sync.Mutex
	pending []Change
	failure error

	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *brokerSub) enqueue(c Change) {
	s.mu.Lock()
	s.pending = append(s.pending, c)
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *brokerSub) fail(err error) {
	s.mu.Lock()
	s.failure = err
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *brokerSub) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.signal:
		}

		for {
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			failure := s.failure
			s.mu.Unlock()

			if len(batch) == 0 && failure == nil {
				break
			}
			for _, c := range batch {
				select {
				case <-s.done:
					return
				default:
				}
				if s.listener.OnChange != nil {
					s.listener.OnChange(c)
				}
			}
			if failure != nil {
				s.stop()
				if s.listener.OnError != nil {
					s.listener.OnError(failure)
				}
				return
			}
		}
	}
}

func (s *brokerSub) stop() {
	s.once.Do(func() {
		close(s.done)
	})
}

// Unsubscribe stops delivery; changes still queued are discarded
func (s *brokerSub) Unsubscribe() error {
	s.stop()
	s.broker.remove(s.id)
	return nil
}
