// Package session keeps the local projection of one shared session. The cache
// is primed by a full read and then kept current only by change feed events;
// nothing writes to it directly.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/services/phase"
	"github.com/mcoot/pvg/internal/storage"
)

// Status is the state of the connection to the active session
type Status string

const (
	StatusIdle         Status = "IDLE" // No session open
	StatusConnecting   Status = "CONNECTING"
	StatusConnected    Status = "CONNECTED"
	StatusDisconnected Status = "DISCONNECTED" // Feed failed, reconfigure to recover
)

// Connector opens a backend connection handle for a configured endpoint
type Connector interface {
	Connect(ctx context.Context, backend config.Backend) (storage.Backend, error)
}

// Snapshot is a consistent copy of the cached session state
type Snapshot struct {
	Code       model.RoomCode `json:"code,omitempty"`
	Phase      model.Phase    `json:"phase"`
	Room       *model.Room    `json:"room,omitempty"`
	Players    []model.Player `json:"players"`
	Status     Status         `json:"status"`
	Epoch      uint64         `json:"epoch"`
	Configured bool           `json:"configured"`
	Error      string         `json:"error,omitempty"`
}

// Player returns the roster entry with the given id, or nil
func (s Snapshot) Player(id model.PlayerID) *model.Player {
	return model.FindPlayer(s.Players, id)
}

// Store is the session cache for one device
type Store struct {
	connector Connector
	logger    *slog.Logger

	mu      sync.RWMutex
	backend storage.Backend
	epoch   uint64
	code    model.RoomCode
	room    *model.Room
	players []model.Player
	status  Status
	lastErr error
	subs    []feed.Subscription

	// watchMu is never acquired while mu is held
	watchMu  sync.Mutex
	watchers map[chan Snapshot]struct{}
}

// NewStore creates an idle store with no backend
func NewStore(connector Connector, logger *slog.Logger) *Store {
	return &Store{
		connector: connector,
		logger:    logger.With(slog.String("component", "session")),
		status:    StatusIdle,
		watchers:  make(map[chan Snapshot]struct{}),
	}
}

// Reconfigure replaces the backend connection. Live subscriptions are torn
// down, the old handle is closed and, if a session was open, it is reopened
// on the new handle. Events still in flight from the old handle are dropped.
func (s *Store) Reconfigure(ctx context.Context, backend config.Backend) error {
	if err := backend.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	s.epoch++
	epoch := s.epoch
	subs := s.takeSubsLocked()
	old := s.backend
	s.backend = nil
	code := s.code
	if code != "" {
		s.status = StatusConnecting
	}
	s.mu.Unlock()

	unsubscribe(subs)
	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warn("failed to close previous backend", slog.String("error", err.Error()))
		}
	}
	s.notify()

	handle, err := s.connector.Connect(ctx, backend)
	if err != nil {
		s.fail(epoch, err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// Superseded by a later reconfigure or close while connecting
		s.mu.Unlock()
		_ = handle.Close()
		return nil
	}
	s.backend = handle
	s.lastErr = nil
	if code == "" {
		s.status = StatusIdle
	}
	s.mu.Unlock()

	s.logger.Info("backend configured", slog.String("scheme", backend.Scheme()), slog.Uint64("epoch", epoch))
	if code == "" {
		s.notify()
		return nil
	}
	return s.Open(ctx, code)
}

// Open primes the cache with a full read of the room and its roster, then
// subscribes to changes of both. A subscription failure leaves the primed
// cache in place with a disconnected status.
func (s *Store) Open(ctx context.Context, code model.RoomCode) error {
	const op = "open session"

	s.mu.Lock()
	if s.backend == nil {
		s.mu.Unlock()
		return model.ConfigurationError(op, model.ErrNotConfigured)
	}
	s.epoch++
	epoch := s.epoch
	subs := s.takeSubsLocked()
	backend := s.backend
	if s.code != code {
		s.room = nil
		s.players = nil
	}
	s.code = code
	s.status = StatusConnecting
	s.lastErr = nil
	s.mu.Unlock()

	unsubscribe(subs)
	s.notify()

	logger := s.logger.With(slog.String("room", string(code)), slog.Uint64("epoch", epoch))

	room, err := backend.GetRoom(ctx, code)
	if err == nil {
		var players []model.Player
		players, err = backend.ListPlayers(ctx, code)
		if err == nil {
			s.mu.Lock()
			if s.epoch == epoch {
				s.room = room
				s.players = players
			}
			s.mu.Unlock()
		}
	}
	if err != nil {
		err = model.RequestError(op, err)
		if errors.Is(err, model.ErrRoomNotFound) {
			err = model.ValidationError(op, model.ErrRoomNotFound)
		}
		s.mu.Lock()
		if s.epoch == epoch {
			s.epoch++
			s.code = ""
			s.room = nil
			s.players = nil
			s.status = StatusIdle
		}
		s.mu.Unlock()
		s.notify()
		return err
	}

	roomSub, err := backend.Subscribe(ctx, feed.RoomFilter(code), feed.Listener{
		OnChange: func(c feed.Change) { s.applyRoom(epoch, c) },
		OnError:  func(err error) { s.fail(epoch, err) },
	})
	if err != nil {
		s.fail(epoch, err)
		return err
	}
	playerSub, err := backend.Subscribe(ctx, feed.PlayerFilter(code), feed.Listener{
		OnChange: func(c feed.Change) { s.applyRoster(epoch, backend, c) },
		OnError:  func(err error) { s.fail(epoch, err) },
	})
	if err != nil {
		_ = roomSub.Unsubscribe()
		s.fail(epoch, err)
		return err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		unsubscribe([]feed.Subscription{roomSub, playerSub})
		logger.Debug("open superseded")
		return nil
	}
	s.subs = []feed.Subscription{roomSub, playerSub}
	if s.status == StatusConnecting {
		s.status = StatusConnected
	}
	s.mu.Unlock()

	logger.Info("session opened")
	s.notify()
	return nil
}

// Close unsubscribes from the session and clears the cache. The backend
// connection stays available for the next Open.
func (s *Store) Close() {
	s.mu.Lock()
	s.epoch++
	subs := s.takeSubsLocked()
	code := s.code
	s.code = ""
	s.room = nil
	s.players = nil
	s.status = StatusIdle
	s.lastErr = nil
	s.mu.Unlock()

	unsubscribe(subs)
	if code != "" {
		s.logger.Info("session closed", slog.String("room", string(code)))
	}
	s.notify()
}

// Shutdown closes the session and the backend connection
func (s *Store) Shutdown() error {
	s.Close()

	s.mu.Lock()
	backend := s.backend
	s.backend = nil
	s.mu.Unlock()

	if backend == nil {
		return nil
	}
	return backend.Close()
}

// Feed callbacks

func (s *Store) applyRoom(epoch uint64, c feed.Change) {
	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("dropping stale room event", slog.Uint64("epoch", epoch))
		return
	}
	if c.Op == feed.OpDelete {
		s.room = nil
	} else {
		room := *c.Room
		s.room = &room
	}
	s.mu.Unlock()

	s.logger.Debug("room updated", slog.String("room", string(c.Room.Code)), slog.String("phase", string(c.Room.Phase)))
	s.notify()
}

// applyRoster re-reads the whole roster; on failure the previous roster stays
func (s *Store) applyRoster(epoch uint64, backend storage.Backend, c feed.Change) {
	if !s.current(epoch) {
		s.logger.Debug("dropping stale player event", slog.Uint64("epoch", epoch))
		return
	}

	code := c.Player.RoomCode
	players, err := backend.ListPlayers(context.Background(), code)
	if err != nil {
		s.logger.Error("failed to re-read roster",
			slog.String("room", string(code)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.players = players
	s.mu.Unlock()

	s.logger.Debug("roster updated", slog.String("room", string(code)), slog.Int("players", len(players)))
	s.notify()
}

func (s *Store) fail(epoch uint64, err error) {
	if !model.IsKind(err, model.KindChannel) && !model.IsKind(err, model.KindConfiguration) {
		err = model.ChannelError("session feed", err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		s.mu.Unlock()
		return
	}
	s.status = StatusDisconnected
	s.lastErr = err
	s.mu.Unlock()

	s.logger.Error("session disconnected", slog.Uint64("epoch", epoch), slog.String("error", err.Error()))
	s.notify()
}

func (s *Store) current(epoch uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch == epoch
}

func (s *Store) takeSubsLocked() []feed.Subscription {
	subs := s.subs
	s.subs = nil
	return subs
}

func unsubscribe(subs []feed.Subscription) {
	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

// Read API

// Snapshot returns a copy of the cached state
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Code:       s.code,
		Phase:      phase.Current(s.room),
		Players:    make([]model.Player, len(s.players)),
		Status:     s.status,
		Epoch:      s.epoch,
		Configured: s.backend != nil,
	}
	copy(snap.Players, s.players)
	if s.room != nil {
		room := *s.room
		snap.Room = &room
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// Code returns the code of the open session, or ""
func (s *Store) Code() model.RoomCode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

// Room returns a copy of the cached room, or nil
func (s *Store) Room() *model.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.room == nil {
		return nil
	}
	room := *s.room
	return &room
}

// Players returns a copy of the cached roster in join order
func (s *Store) Players() []model.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Player, len(s.players))
	copy(out, s.players)
	return out
}

// Player returns a copy of one cached roster entry, or nil
func (s *Store) Player(id model.PlayerID) *model.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := model.FindPlayer(s.players, id)
	if p == nil {
		return nil
	}
	out := *p
	return &out
}

// Epoch returns the connection epoch
func (s *Store) Epoch() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.epoch
}

// Status returns the connection status and the last feed error
func (s *Store) Status() (Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status, s.lastErr
}

// Backend returns the current connection handle for writers
func (s *Store) Backend() (storage.Backend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil, model.ConfigurationError("backend", model.ErrNotConfigured)
	}
	return s.backend, nil
}
