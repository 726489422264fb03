package model

import (
	"sort"
	"time"
)

// PlayerID is the client identity of the device owning a roster entry
type PlayerID string

// Role is the hidden assignment of a player
type Role string

const (
	RoleUnknown  Role = "UNKNOWN" // Not yet assigned, or assignment not yet visible
	RolePredator Role = "PREDATOR"
	RoleGuardian Role = "GUARDIAN"
)

// Valid returns true for a known role
func (r Role) Valid() bool {
	switch r {
	case RoleUnknown, RolePredator, RoleGuardian:
		return true
	}
	return false
}

// Player is one device's roster entry within a room.
// (ID, RoomCode) is the natural key.
type Player struct {
	ID        PlayerID  `json:"id"`
	RoomCode  RoomCode  `json:"room_code"`
	Name      string    `json:"name"`
	IsAlive   bool      `json:"is_alive"`
	Role      Role      `json:"role"`
	IsHost    bool      `json:"is_host"`
	CreatedAt time.Time `json:"created_at"`
}

// PlayerPatch is a partial update of a player row. Nil fields are left untouched.
type PlayerPatch struct {
	Name    *string `json:"name,omitempty"`
	IsAlive *bool   `json:"is_alive,omitempty"`
	Role    *Role   `json:"role,omitempty"`
}

// Apply writes the set fields of the patch onto the player
func (p PlayerPatch) Apply(pl *Player) {
	if p.Name != nil {
		pl.Name = *p.Name
	}
	if p.IsAlive != nil {
		pl.IsAlive = *p.IsAlive
	}
	if p.Role != nil {
		pl.Role = *p.Role
	}
}

// SortPlayers orders a roster by join time, using the id to break ties
func SortPlayers(players []Player) {
	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].CreatedAt.Before(players[j].CreatedAt)
		}
		return players[i].ID < players[j].ID
	})
}

// FindPlayer returns the player with the given id, or nil
func FindPlayer(players []Player, id PlayerID) *Player {
	for i := range players {
		if players[i].ID == id {
			return &players[i]
		}
	}
	return nil
}

// CountRoles returns how many players hold each role
func CountRoles(players []Player) map[Role]int {
	counts := make(map[Role]int, 3)
	for _, p := range players {
		counts[p.Role]++
	}
	return counts
}

// Ptr returns a pointer to v, for building patches
func Ptr[T any](v T) *T {
	return &v
}
