package memory

import (
	"context"
	"sync"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/storage"
)

// Handle is one connection to a shared in-memory Storage. Closing a handle
// tears down only the subscriptions made through it, which lets several
// simulated devices share one process-local backend.
type Handle struct {
	*Storage

	mu     sync.Mutex
	subs   []feed.Subscription
	closed bool
}

// Ensure Handle implements Backend
var _ storage.Backend = (*Handle)(nil)

// Connect opens a new handle on the shared storage
func (s *Storage) Connect() *Handle {
	return &Handle{Storage: s}
}

// Subscribe registers a change listener owned by this handle
func (h *Handle) Subscribe(ctx context.Context, filter feed.Filter, listener feed.Listener) (feed.Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, model.ChannelError("subscribe "+filter.String(), model.ErrChannelClosed)
	}
	sub, err := h.Storage.Subscribe(ctx, filter, listener)
	if err != nil {
		return nil, err
	}
	h.subs = append(h.subs, sub)
	return sub, nil
}

// Close unsubscribes everything opened through the handle
func (h *Handle) Close() error {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
	return nil
}
