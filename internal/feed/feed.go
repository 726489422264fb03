// Package feed defines the row-change publish/subscribe contract shared by
// every backing store. Delivery is at-least-once and ordered by commit within
// one subscription; there is no ordering across subscriptions.
package feed

import (
	"context"
	"fmt"

	"github.com/mcoot/pvg/internal/model"
)

// Op is the kind of row change
type Op string

const (
	OpInsert Op = "INSERT"
	OpUpdate Op = "UPDATE"
	OpDelete Op = "DELETE"
)

// Change is one committed row change. Exactly one of Room or Player is set,
// matching Table, and carries the new row state (the old state for deletes).
type Change struct {
	Table  string        `json:"table"`
	Op     Op            `json:"op"`
	Room   *model.Room   `json:"room,omitempty"`
	Player *model.Player `json:"player,omitempty"`
}

// RoomChange builds a change event for a room row
func RoomChange(op Op, room model.Room) Change {
	return Change{Table: model.TableRooms, Op: op, Room: &room}
}

// PlayerChange builds a change event for a player row
func PlayerChange(op Op, player model.Player) Change {
	return Change{Table: model.TablePlayers, Op: op, Player: &player}
}

// Filter selects the changes of one table whose column Key equals Value
type Filter struct {
	Table string
	Key   string
	Value string
}

// RoomFilter selects changes to the room with the given code
func RoomFilter(code model.RoomCode) Filter {
	return Filter{Table: model.TableRooms, Key: model.FilterKeyCode, Value: string(code)}
}

// PlayerFilter selects changes to the roster of the given room
func PlayerFilter(code model.RoomCode) Filter {
	return Filter{Table: model.TablePlayers, Key: model.FilterKeyRoomCode, Value: string(code)}
}

// String renders the filter as table:key=value
func (f Filter) String() string {
	return fmt.Sprintf("%s:%s=%s", f.Table, f.Key, f.Value)
}

// Matches reports whether a change satisfies the filter
func (f Filter) Matches(c Change) bool {
	if c.Table != f.Table {
		return false
	}
	switch {
	case c.Room != nil && f.Key == model.FilterKeyCode:
		return string(c.Room.Code) == f.Value
	case c.Player != nil && f.Key == model.FilterKeyRoomCode:
		return string(c.Player.RoomCode) == f.Value
	}
	return false
}

// Listener receives the events of one subscription. OnChange calls are
// serialized. OnError is called at most once, after which no more changes
// are delivered; the caller must tear down and subscribe again.
type Listener struct {
	OnChange func(Change)
	OnError  func(error)
}

// Subscription is a live subscription handle
type Subscription interface {
	Unsubscribe() error
}

// ChangeFeed delivers row changes matching a filter until unsubscribed.
// Subscribe returns a channel-kind error if the subscription cannot be
// established.
type ChangeFeed interface {
	Subscribe(ctx context.Context, filter Filter, listener Listener) (Subscription, error)
}
