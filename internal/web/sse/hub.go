package sse

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
)

// Hub manages SSE clients watching a single room
type Hub struct {
	code     model.RoomCode
	renderer *Renderer
	clients  map[*Client]bool
	mu       sync.RWMutex
	logger   *slog.Logger

	// Latest snapshot published to the hub, replayed to new clients
	latest    *session.Snapshot
	latestMu  sync.Mutex
	published chan struct{}

	// Channels for managing clients
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	closeOnce  sync.Once
}

// NewHub creates a new Hub for a room
func NewHub(code model.RoomCode, renderer *Renderer, logger *slog.Logger) *Hub {
	return &Hub{
		code:       code,
		renderer:   renderer,
		clients:    make(map[*Client]bool),
		logger:     logger.With(slog.String("room", string(code))),
		published:  make(chan struct{}, 1),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run starts the hub's event loop
func (h *Hub) Run() {
	h.logger.Info("sse hub started")
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("sse client registered",
				slog.String("player_id", string(client.viewer)),
				slog.Int("total_clients", clientCount))
			if snap := h.Latest(); snap != nil {
				h.deliver(client, *snap)
			}

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				clientCount := len(h.clients)
				h.mu.Unlock()
				h.logger.Info("sse client unregistered",
					slog.String("player_id", string(client.viewer)),
					slog.Duration("connection_duration", time.Since(client.connectedAt)),
					slog.Int("total_clients", clientCount))
			} else {
				h.mu.Unlock()
			}

		case <-h.published:
			snap := h.Latest()
			if snap == nil {
				continue
			}
			h.mu.RLock()
			for client := range h.clients {
				h.deliver(client, *snap)
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			clientCount := len(h.clients)
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			h.logger.Info("sse hub stopped", slog.Int("disconnected_clients", clientCount))
			return
		}
	}
}

// deliver renders the snapshot for one client and queues it without blocking
func (h *Hub) deliver(client *Client, snap session.Snapshot) {
	msg, err := h.renderer.RenderSnapshot(snap, client.viewer, client.reveal)
	if err != nil {
		h.logger.Error("sse failed to render snapshot",
			slog.String("player_id", string(client.viewer)),
			slog.String("error", err.Error()))
		return
	}
	select {
	case client.send <- msg:
	default:
		h.logger.Warn("sse message dropped - client buffer full",
			slog.String("player_id", string(client.viewer)))
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish records the snapshot as the latest and wakes the hub. Only the
// newest snapshot is delivered if several arrive before the hub catches up.
func (h *Hub) Publish(snap session.Snapshot) {
	h.latestMu.Lock()
	h.latest = &snap
	h.latestMu.Unlock()

	select {
	case h.published <- struct{}{}:
	default:
	}
}

// Latest returns the most recently published snapshot, or nil
func (h *Hub) Latest() *session.Snapshot {
	h.latestMu.Lock()
	defer h.latestMu.Unlock()
	if h.latest == nil {
		return nil
	}
	snap := *h.latest
	return &snap
}

// Close shuts down the hub
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// formatSSEMessage formats an SSE message with event name and data.
// Each line of data gets its own "data: " prefix.
func formatSSEMessage(eventName, data string) []byte {
	var b strings.Builder
	b.WriteString("event: " + eventName + "\n")
	for _, line := range splitLines(data) {
		b.WriteString("data: " + line + "\n")
	}
	b.WriteString("\n")
	return []byte(b.String())
}

// splitLines splits a string into lines, handling \n and \r\n endings
func splitLines(s string) []string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// HubManager manages hubs for all rooms
type HubManager struct {
	hubs     map[model.RoomCode]*Hub
	renderer *Renderer
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewHubManager creates a new HubManager
func NewHubManager(renderer *Renderer, logger *slog.Logger) *HubManager {
	return &HubManager{
		hubs:     make(map[model.RoomCode]*Hub),
		renderer: renderer,
		logger:   logger.With(slog.String("component", "sse")),
	}
}

// GetOrCreateHub returns the hub for a room, creating one if it doesn't exist
func (m *HubManager) GetOrCreateHub(code model.RoomCode) *Hub {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[code]; ok {
		return hub
	}

	hub := NewHub(code, m.renderer, m.logger)
	m.hubs[code] = hub
	go hub.Run()
	return hub
}

// GetHub returns the hub for a room, or nil if it doesn't exist
func (m *HubManager) GetHub(code model.RoomCode) *Hub {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hubs[code]
}

// RemoveHub removes and closes a hub
func (m *HubManager) RemoveHub(code model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hub, ok := m.hubs[code]; ok {
		hub.Close()
		delete(m.hubs, code)
		m.logger.Info("sse hub removed", slog.String("room", string(code)))
	}
}

// CleanupEmptyHubs removes hubs with no clients, except the one for keep
func (m *HubManager) CleanupEmptyHubs(keep model.RoomCode) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removedCount := 0
	for code, hub := range m.hubs {
		if code != keep && hub.ClientCount() == 0 {
			hub.Close()
			delete(m.hubs, code)
			removedCount++
		}
	}
	if removedCount > 0 {
		m.logger.Info("sse empty hubs cleaned up", slog.Int("removed", removedCount))
	}
}

// Close shuts down every hub
func (m *HubManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for code, hub := range m.hubs {
		hub.Close()
		delete(m.hubs, code)
	}
}
