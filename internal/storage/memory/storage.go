package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/storage"
)

// Storage is an in-memory implementation of the backing store. Each write
// publishes the committed rows to an in-process broker while the write lock
// is held, so notification order equals commit order.
type Storage struct {
	mu sync.RWMutex

	rooms   map[model.RoomCode]*model.Room
	players map[model.RoomCode]map[model.PlayerID]*model.Player

	broker *feed.Broker
}

// New creates a new in-memory storage instance
func New(logger *slog.Logger) *Storage {
	return &Storage{
		rooms:   make(map[model.RoomCode]*model.Room),
		players: make(map[model.RoomCode]map[model.PlayerID]*model.Player),
		broker:  feed.NewBroker(logger),
	}
}

// Ensure Storage implements the interfaces
var (
	_ storage.Store   = (*Storage)(nil)
	_ storage.Backend = (*Storage)(nil)
)

// Subscribe registers a change listener on the in-process feed
func (s *Storage) Subscribe(ctx context.Context, filter feed.Filter, listener feed.Listener) (feed.Subscription, error) {
	return s.broker.Subscribe(ctx, filter, listener)
}

// SubscriptionCount returns the number of live feed subscriptions
func (s *Storage) SubscriptionCount() int {
	return s.broker.SubscriptionCount()
}

// Close drops the feed; live subscriptions receive a channel error
func (s *Storage) Close() error {
	s.broker.Close()
	return nil
}

// Room operations

func (s *Storage) InsertRoom(ctx context.Context, room *model.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room.Code]; ok {
		return model.ErrRoomExists
	}
	stored := *room
	s.rooms[room.Code] = &stored
	s.broker.Publish(feed.RoomChange(feed.OpInsert, stored))
	return nil
}

func (s *Storage) GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	out := *room
	return &out, nil
}

func (s *Storage) UpdateRoom(ctx context.Context, code model.RoomCode, patch model.RoomPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return model.ErrRoomNotFound
	}
	patch.Apply(room)
	s.broker.Publish(feed.RoomChange(feed.OpUpdate, *room))
	return nil
}

func (s *Storage) TransitionRoom(ctx context.Context, code model.RoomCode, fn storage.Transition) (*model.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[code]
	if !ok {
		return nil, model.ErrRoomNotFound
	}
	current := *room
	patch, err := fn(&current)
	if err != nil {
		return nil, err
	}
	patch.Apply(room)
	s.broker.Publish(feed.RoomChange(feed.OpUpdate, *room))
	out := *room
	return &out, nil
}

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, code model.RoomCode, id model.PlayerID) (*model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	player, ok := s.players[code][id]
	if !ok {
		return nil, model.ErrPlayerNotFound
	}
	out := *player
	return &out, nil
}

func (s *Storage) ListPlayers(ctx context.Context, code model.RoomCode) ([]model.Player, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roster := s.players[code]
	players := make([]model.Player, 0, len(roster))
	for _, p := range roster {
		players = append(players, *p)
	}
	model.SortPlayers(players)
	return players, nil
}

func (s *Storage) UpsertPlayer(ctx context.Context, player *model.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[player.RoomCode]; !ok {
		return model.ErrRoomNotFound
	}
	roster := s.players[player.RoomCode]
	if roster == nil {
		roster = make(map[model.PlayerID]*model.Player)
		s.players[player.RoomCode] = roster
	}

	stored := *player
	op := feed.OpInsert
	if existing, ok := roster[player.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
		op = feed.OpUpdate
	}
	roster[player.ID] = &stored
	s.broker.Publish(feed.PlayerChange(op, stored))
	return nil
}

func (s *Storage) UpdatePlayer(ctx context.Context, code model.RoomCode, id model.PlayerID, patch model.PlayerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	player, ok := s.players[code][id]
	if !ok {
		return model.ErrPlayerNotFound
	}
	patch.Apply(player)
	s.broker.Publish(feed.PlayerChange(feed.OpUpdate, *player))
	return nil
}

func (s *Storage) UpdatePlayers(ctx context.Context, code model.RoomCode, patch model.PlayerPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, player := range s.sortedLocked(code) {
		patch.Apply(player)
		s.broker.Publish(feed.PlayerChange(feed.OpUpdate, *player))
	}
	return nil
}

func (s *Storage) AssignRoles(ctx context.Context, code model.RoomCode, roles map[model.PlayerID]model.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster := s.players[code]
	// Validate first so the batch is applied entirely or not at all
	for id := range roles {
		if _, ok := roster[id]; !ok {
			return model.ErrPlayerNotFound
		}
	}
	for _, player := range s.sortedLocked(code) {
		role, ok := roles[player.ID]
		if !ok {
			continue
		}
		player.Role = role
		s.broker.Publish(feed.PlayerChange(feed.OpUpdate, *player))
	}
	return nil
}

func (s *Storage) DeletePlayersExcept(ctx context.Context, code model.RoomCode, keep []model.PlayerID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := make(map[model.PlayerID]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	for _, player := range s.sortedLocked(code) {
		if kept[player.ID] {
			continue
		}
		delete(s.players[code], player.ID)
		s.broker.Publish(feed.PlayerChange(feed.OpDelete, *player))
	}
	return nil
}

// sortedLocked returns the live roster rows in join order; caller holds mu
func (s *Storage) sortedLocked(code model.RoomCode) []*model.Player {
	roster := s.players[code]
	players := make([]model.Player, 0, len(roster))
	for _, p := range roster {
		players = append(players, *p)
	}
	model.SortPlayers(players)
	out := make([]*model.Player, len(players))
	for i, p := range players {
		out[i] = roster[p.ID]
	}
	return out
}
