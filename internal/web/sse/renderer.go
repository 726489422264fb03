package sse

import (
	"encoding/json"
	"fmt"

	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
)

// EventSnapshot is the SSE event name carrying a session view
const EventSnapshot = "snapshot"

// Renderer converts session snapshots to SSE messages
type Renderer struct{}

// NewRenderer creates a new Renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// RenderView encodes the snapshot as seen by the viewer
func (r *Renderer) RenderView(snap session.Snapshot, viewer model.PlayerID, reveal bool) ([]byte, error) {
	data, err := json.Marshal(snap.ViewFor(viewer, reveal))
	if err != nil {
		return nil, fmt.Errorf("encode view: %w", err)
	}
	return data, nil
}

// RenderSnapshot renders a complete "snapshot" SSE message for the viewer
func (r *Renderer) RenderSnapshot(snap session.Snapshot, viewer model.PlayerID, reveal bool) ([]byte, error) {
	data, err := r.RenderView(snap, viewer, reveal)
	if err != nil {
		return nil, err
	}
	return formatSSEMessage(EventSnapshot, string(data)), nil
}
