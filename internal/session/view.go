package session

import "github.com/mcoot/pvg/internal/model"

// View is a snapshot as shown to one device. Roles of other players are
// masked unless the viewer is a host who asked for them to be revealed.
type View struct {
	Snapshot
	Self          model.PlayerID `json:"self,omitempty"`
	IsHost        bool           `json:"is_host"`
	RolesRevealed bool           `json:"roles_revealed"`
	Predators     int            `json:"predators"`
	Guardians     int            `json:"guardians"`
}

// ViewFor projects the snapshot for the given viewer
func (s Snapshot) ViewFor(viewer model.PlayerID, reveal bool) View {
	v := View{Snapshot: s, Self: viewer}

	if self := s.Player(viewer); self != nil {
		v.IsHost = self.IsHost
	}
	v.RolesRevealed = reveal && v.IsHost

	counts := model.CountRoles(s.Players)
	v.Predators = counts[model.RolePredator]
	v.Guardians = counts[model.RoleGuardian]

	players := make([]model.Player, len(s.Players))
	copy(players, s.Players)
	if !v.RolesRevealed {
		for i := range players {
			if players[i].ID != viewer {
				players[i].Role = model.RoleUnknown
			}
		}
	}
	v.Players = players
	return v
}
