package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/storage"
)

// maxTxRetries bounds optimistic retries when a watched key changes mid-write
const maxTxRetries = 10

// Storage is a Redis-backed implementation of the backing store. Every write
// is one MULTI/EXEC that also PUBLISHes the committed rows, so subscribers see
// changes in commit order.
type Storage struct {
	client *redis.Client
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	subs   map[*subscription]struct{}
	closed bool
}

// New creates a new Redis storage instance
func New(cfg Config, logger *slog.Logger) (*Storage, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, model.ConfigurationError("parse redis url", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	// Verify connection
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, model.RequestError("ping redis", err)
	}

	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient creates a Redis storage with an existing client (for testing)
func NewWithClient(client *redis.Client, cfg Config, logger *slog.Logger) *Storage {
	return &Storage{
		client: client,
		cfg:    cfg,
		logger: logger.With(slog.String("component", "redis")),
		subs:   make(map[*subscription]struct{}),
	}
}

// Ensure Storage implements the interfaces
var (
	_ storage.Store   = (*Storage)(nil)
	_ storage.Backend = (*Storage)(nil)
)

// Close fails live subscriptions with a channel error and closes the client
func (s *Storage) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := s.subs
	s.subs = make(map[*subscription]struct{})
	s.mu.Unlock()

	for sub := range subs {
		_ = sub.pubsub.Close()
	}
	return s.client.Close()
}

// Room operations

func (s *Storage) InsertRoom(ctx context.Context, room *model.Room) error {
	key := roomKey(room.Code)
	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return model.ErrRoomExists
		}
		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setRoom(ctx, pipe, room, feed.OpInsert)
		})
	}, key)
}

func (s *Storage) GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error) {
	return getRoom(ctx, s.client, code)
}

func (s *Storage) UpdateRoom(ctx context.Context, code model.RoomCode, patch model.RoomPatch) error {
	key := roomKey(code)
	return s.watch(ctx, func(tx *redis.Tx) error {
		room, err := getRoom(ctx, tx, code)
		if err != nil {
			return err
		}
		patch.Apply(room)
		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setRoom(ctx, pipe, room, feed.OpUpdate)
		})
	}, key)
}

func (s *Storage) TransitionRoom(ctx context.Context, code model.RoomCode, fn storage.Transition) (*model.Room, error) {
	var committed *model.Room
	err := s.watch(ctx, func(tx *redis.Tx) error {
		room, err := getRoom(ctx, tx, code)
		if err != nil {
			return err
		}
		current := *room
		patch, err := fn(&current)
		if err != nil {
			return err
		}
		patch.Apply(room)
		if err := s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setRoom(ctx, pipe, room, feed.OpUpdate)
		}); err != nil {
			return err
		}
		committed = room
		return nil
	}, roomKey(code))
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Player operations

func (s *Storage) GetPlayer(ctx context.Context, code model.RoomCode, id model.PlayerID) (*model.Player, error) {
	return getPlayer(ctx, s.client, code, id)
}

func (s *Storage) ListPlayers(ctx context.Context, code model.RoomCode) ([]model.Player, error) {
	return listPlayers(ctx, s.client, code)
}

func (s *Storage) UpsertPlayer(ctx context.Context, player *model.Player) error {
	rKey := roomKey(player.RoomCode)
	pKey := playersKey(player.RoomCode)
	return s.watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, rKey).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return model.ErrRoomNotFound
		}

		stored := *player
		op := feed.OpInsert
		existing, err := getPlayer(ctx, tx, player.RoomCode, player.ID)
		switch {
		case err == nil:
			stored.CreatedAt = existing.CreatedAt
			op = feed.OpUpdate
		case !errors.Is(err, model.ErrPlayerNotFound):
			return err
		}

		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setPlayers(ctx, pipe, player.RoomCode, op, stored)
		})
	}, rKey, pKey)
}

func (s *Storage) UpdatePlayer(ctx context.Context, code model.RoomCode, id model.PlayerID, patch model.PlayerPatch) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		player, err := getPlayer(ctx, tx, code, id)
		if err != nil {
			return err
		}
		patch.Apply(player)
		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setPlayers(ctx, pipe, code, feed.OpUpdate, *player)
		})
	}, playersKey(code))
}

func (s *Storage) UpdatePlayers(ctx context.Context, code model.RoomCode, patch model.PlayerPatch) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		players, err := listPlayers(ctx, tx, code)
		if err != nil {
			return err
		}
		if len(players) == 0 {
			return nil
		}
		for i := range players {
			patch.Apply(&players[i])
		}
		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setPlayers(ctx, pipe, code, feed.OpUpdate, players...)
		})
	}, playersKey(code))
}

func (s *Storage) AssignRoles(ctx context.Context, code model.RoomCode, roles map[model.PlayerID]model.Role) error {
	return s.watch(ctx, func(tx *redis.Tx) error {
		players, err := listPlayers(ctx, tx, code)
		if err != nil {
			return err
		}
		for id := range roles {
			if model.FindPlayer(players, id) == nil {
				return model.ErrPlayerNotFound
			}
		}

		changed := make([]model.Player, 0, len(roles))
		for _, p := range players {
			role, ok := roles[p.ID]
			if !ok {
				continue
			}
			p.Role = role
			changed = append(changed, p)
		}
		if len(changed) == 0 {
			return nil
		}
		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			return s.setPlayers(ctx, pipe, code, feed.OpUpdate, changed...)
		})
	}, playersKey(code))
}

func (s *Storage) DeletePlayersExcept(ctx context.Context, code model.RoomCode, keep []model.PlayerID) error {
	key := playersKey(code)
	return s.watch(ctx, func(tx *redis.Tx) error {
		players, err := listPlayers(ctx, tx, code)
		if err != nil {
			return err
		}
		kept := make(map[model.PlayerID]bool, len(keep))
		for _, id := range keep {
			kept[id] = true
		}

		var removed []model.Player
		for _, p := range players {
			if !kept[p.ID] {
				removed = append(removed, p)
			}
		}
		if len(removed) == 0 {
			return nil
		}

		return s.commit(ctx, tx, func(pipe redis.Pipeliner) error {
			for _, p := range removed {
				pipe.HDel(ctx, key, string(p.ID))
				if err := publish(ctx, pipe, feed.PlayerChange(feed.OpDelete, p)); err != nil {
					return err
				}
			}
			return nil
		})
	}, key)
}

// Write helpers

// watch runs fn under WATCH on keys, retrying when a watched key changed
// between the read and the EXEC
func (s *Storage) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		s.logger.Debug("transaction conflict, retrying", slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("transaction on %v: %w", keys, redis.TxFailedErr)
}

func (s *Storage) commit(ctx context.Context, tx *redis.Tx, fn func(pipe redis.Pipeliner) error) error {
	_, err := tx.TxPipelined(ctx, fn)
	return err
}

func (s *Storage) setRoom(ctx context.Context, pipe redis.Pipeliner, room *model.Room, op feed.Op) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}
	pipe.Set(ctx, roomKey(room.Code), data, s.cfg.RowTTL)
	return publish(ctx, pipe, feed.RoomChange(op, *room))
}

func (s *Storage) setPlayers(ctx context.Context, pipe redis.Pipeliner, code model.RoomCode, op feed.Op, players ...model.Player) error {
	key := playersKey(code)
	for _, p := range players {
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, key, string(p.ID), data)
		if err := publish(ctx, pipe, feed.PlayerChange(op, p)); err != nil {
			return err
		}
	}
	if s.cfg.RowTTL > 0 {
		pipe.Expire(ctx, key, s.cfg.RowTTL)
	}
	return nil
}

func publish(ctx context.Context, pipe redis.Pipeliner, c feed.Change) error {
	payload, err := feed.Encode(c)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, channelFor(c), payload)
	return nil
}

// Read helpers, shared by the client and by WATCH transactions

func getRoom(ctx context.Context, c redis.Cmdable, code model.RoomCode) (*model.Room, error) {
	data, err := c.Get(ctx, roomKey(code)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrRoomNotFound
		}
		return nil, err
	}

	var room model.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, err
	}
	return &room, nil
}

func getPlayer(ctx context.Context, c redis.Cmdable, code model.RoomCode, id model.PlayerID) (*model.Player, error) {
	data, err := c.HGet(ctx, playersKey(code), string(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, model.ErrPlayerNotFound
		}
		return nil, err
	}

	var player model.Player
	if err := json.Unmarshal(data, &player); err != nil {
		return nil, err
	}
	return &player, nil
}

func listPlayers(ctx context.Context, c redis.Cmdable, code model.RoomCode) ([]model.Player, error) {
	values, err := c.HGetAll(ctx, playersKey(code)).Result()
	if err != nil {
		return nil, err
	}

	players := make([]model.Player, 0, len(values))
	for _, val := range values {
		var player model.Player
		if err := json.Unmarshal([]byte(val), &player); err != nil {
			continue // Skip invalid data
		}
		players = append(players, player)
	}
	model.SortPlayers(players)
	return players, nil
}
