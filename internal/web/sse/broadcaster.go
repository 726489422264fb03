package sse

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
)

// Broadcaster forwards session snapshots to the hub of the active room
type Broadcaster struct {
	hubManager *HubManager
	logger     *slog.Logger

	mu      sync.Mutex
	current model.RoomCode
	started bool
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(hubManager *HubManager, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		hubManager: hubManager,
		logger:     logger.With(slog.String("component", "sse-broadcaster")),
	}
}

// Run publishes every snapshot until ctx is done or updates is closed
func (b *Broadcaster) Run(ctx context.Context, updates <-chan session.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			b.Publish(snap)
		}
	}
}

// Publish sends a snapshot to the hub of its room. When the active room
// changes the previous room's hub is closed, which ends the streams of
// clients still watching it.
func (b *Broadcaster) Publish(snap session.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started && snap.Code != b.current {
		b.logger.Info("sse active room changed",
			slog.String("from", string(b.current)),
			slog.String("to", string(snap.Code)))
		b.hubManager.RemoveHub(b.current)
	}
	b.current = snap.Code
	b.started = true
	b.hubManager.GetOrCreateHub(snap.Code).Publish(snap)
}

// Current returns the room of the last published snapshot
func (b *Broadcaster) Current() model.RoomCode {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
