package storage

import (
	"context"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
)

// Transition derives a patch from the current committed room
type Transition func(room *model.Room) (model.RoomPatch, error)

// Store is the row-level backing store for rooms and rosters. Every method is
// a single atomic write or read; implementations publish the committed rows
// to their change feed in commit order.
type Store interface {
	// Room operations
	InsertRoom(ctx context.Context, room *model.Room) error // ErrRoomExists if the code is taken
	GetRoom(ctx context.Context, code model.RoomCode) (*model.Room, error)
	UpdateRoom(ctx context.Context, code model.RoomCode, patch model.RoomPatch) error
	// TransitionRoom computes a patch from the committed row and applies it in
	// the same write. An error from fn aborts the write and is returned as is.
	TransitionRoom(ctx context.Context, code model.RoomCode, fn Transition) (*model.Room, error)

	// Player operations
	GetPlayer(ctx context.Context, code model.RoomCode, id model.PlayerID) (*model.Player, error)
	ListPlayers(ctx context.Context, code model.RoomCode) ([]model.Player, error) // ordered by CreatedAt
	UpsertPlayer(ctx context.Context, player *model.Player) error                 // keeps CreatedAt of an existing row
	UpdatePlayer(ctx context.Context, code model.RoomCode, id model.PlayerID, patch model.PlayerPatch) error
	UpdatePlayers(ctx context.Context, code model.RoomCode, patch model.PlayerPatch) error
	AssignRoles(ctx context.Context, code model.RoomCode, roles map[model.PlayerID]model.Role) error
	DeletePlayersExcept(ctx context.Context, code model.RoomCode, keep []model.PlayerID) error
}

// Backend is a connection handle: a store plus the change feed it publishes to
type Backend interface {
	Store
	feed.ChangeFeed
	Close() error
}
