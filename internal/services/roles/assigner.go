package roles

import (
	"github.com/mcoot/pvg/internal/dependencies/random"
	"github.com/mcoot/pvg/internal/model"
)

const (
	// MinPlayers is the smallest roster a session can start with:
	// the predator floor plus one guardian
	MinPlayers = 3

	// MinPredators is the predator count for any roster of 8 or fewer
	MinPredators = 2
)

// PredatorCount returns how many predators a roster of n players gets.
// Rosters below the supported range still get the floor of 2.
func PredatorCount(n int) int {
	switch {
	case n >= 13:
		return 4
	case n >= 9:
		return 3
	default:
		return MinPredators
	}
}

// GuardianCount returns how many guardians a roster of n players gets
func GuardianCount(n int) int {
	return max(n-PredatorCount(n), 0)
}

// Pool returns the role multiset for n players, predators first
func Pool(n int) []model.Role {
	if n <= 0 {
		return nil
	}
	predators := min(PredatorCount(n), n)
	pool := make([]model.Role, n)
	for i := range pool {
		if i < predators {
			pool[i] = model.RolePredator
		} else {
			pool[i] = model.RoleGuardian
		}
	}
	return pool
}

// Assigner deals hidden roles onto a roster
type Assigner struct {
	random random.Random
}

// New creates a new Assigner drawing from the given random source
func New(random random.Random) *Assigner {
	return &Assigner{
		random: random,
	}
}

// Shuffle returns a uniformly random permutation of the role pool for n players
func (a *Assigner) Shuffle(n int) []model.Role {
	pool := Pool(n)
	// Fisher-Yates
	for i := len(pool) - 1; i > 0; i-- {
		j := a.random.Intn(i + 1)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool
}

// Assign deals a shuffled pool onto the roster in join order and returns the
// role for every player id
func (a *Assigner) Assign(roster []model.Player) map[model.PlayerID]model.Role {
	ordered := make([]model.Player, len(roster))
	copy(ordered, roster)
	model.SortPlayers(ordered)

	dealt := a.Shuffle(len(ordered))
	assignment := make(map[model.PlayerID]model.Role, len(ordered))
	for i, p := range ordered {
		assignment[p.ID] = dealt[i]
	}
	return assignment
}

// Apply returns a copy of the roster with the assignment written onto it
func Apply(roster []model.Player, assignment map[model.PlayerID]model.Role) []model.Player {
	out := make([]model.Player, len(roster))
	for i, p := range roster {
		if role, ok := assignment[p.ID]; ok {
			p.Role = role
		}
		out[i] = p
	}
	return out
}
