package testutil

import (
	"fmt"
	"time"

	"github.com/mcoot/pvg/internal/model"
)

// Roster builds n alive, unassigned players for a room, joined one second apart.
// The first player is the host.
func Roster(code model.RoomCode, n int, start time.Time) []model.Player {
	players := make([]model.Player, n)
	for i := range players {
		players[i] = model.Player{
			ID:        model.PlayerID(fmt.Sprintf("player-%02d", i+1)),
			RoomCode:  code,
			Name:      fmt.Sprintf("Player %d", i+1),
			IsAlive:   true,
			Role:      model.RoleUnknown,
			IsHost:    i == 0,
			CreatedAt: start.Add(time.Duration(i) * time.Second),
		}
	}
	return players
}
