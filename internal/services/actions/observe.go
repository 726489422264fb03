package actions

import (
	"context"
	"errors"
	"time"

	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
)

// Condition reports whether the effect of an action is visible in a snapshot
type Condition func(session.Snapshot) bool

// Waiter blocks until the session cache satisfies a condition
type Waiter interface {
	WaitFor(ctx context.Context, cond func(session.Snapshot) bool) (session.Snapshot, error)
}

// Await waits up to timeout for cond. The returned flag is false when the
// timeout passed first; the snapshot is then the latest one seen. Any other
// wait failure is returned.
func Await(ctx context.Context, w Waiter, timeout time.Duration, cond Condition) (session.Snapshot, bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := w.WaitFor(waitCtx, cond)
	switch {
	case err == nil:
		return snap, true, nil
	case ctx.Err() != nil:
		return snap, false, ctx.Err()
	case errors.Is(err, context.DeadlineExceeded) && waitCtx.Err() != nil:
		return snap, false, nil
	default:
		return snap, false, err
	}
}

// Entered holds once the device is seated in the room
func Entered(code model.RoomCode, self model.PlayerID) Condition {
	return func(s session.Snapshot) bool {
		return s.Code == code && s.Room != nil && s.Player(self) != nil
	}
}

// InPhase holds once the room has reached the phase
func InPhase(phase model.Phase) Condition {
	return func(s session.Snapshot) bool {
		return s.Room != nil && s.Room.Phase == phase
	}
}

// Dealt holds once the briefing is visible with every role assigned
func Dealt() Condition {
	return func(s session.Snapshot) bool {
		if s.Room == nil || s.Room.Phase != model.PhaseBriefing || len(s.Players) == 0 {
			return false
		}
		return model.CountRoles(s.Players)[model.RoleUnknown] == 0
	}
}

// RoundMoved holds once the round state differs from before
func RoundMoved(before *model.Room) Condition {
	if before == nil {
		return InPhase(model.PhaseGame)
	}
	gamePhase, round := before.GamePhase, before.RoundCount
	return func(s session.Snapshot) bool {
		return s.Room != nil && (s.Room.GamePhase != gamePhase || s.Room.RoundCount != round)
	}
}

// Alive holds once the player's liveness matches
func Alive(id model.PlayerID, alive bool) Condition {
	return func(s session.Snapshot) bool {
		p := s.Player(id)
		return p != nil && p.IsAlive == alive
	}
}

// Reset holds once the lobby is back with every seat cleared. Without
// keepRoster only hosts remain.
func Reset(keepRoster bool) Condition {
	return func(s session.Snapshot) bool {
		if s.Room == nil || s.Room.Phase != model.PhaseLobby || s.Room.Winner != model.WinnerNone {
			return false
		}
		for _, p := range s.Players {
			if !p.IsAlive || p.Role != model.RoleUnknown || (!keepRoster && !p.IsHost) {
				return false
			}
		}
		return true
	}
}

// Left holds once no session is open
func Left() Condition {
	return func(s session.Snapshot) bool {
		return s.Code == ""
	}
}
