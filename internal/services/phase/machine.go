// Package phase drives the session phase and the day/night round cycle.
// Every transition is host-triggered; nothing here is timed.
package phase

import (
	"fmt"

	"github.com/mcoot/pvg/internal/model"
)

// Current returns the phase of a possibly absent room. With no room row the
// session is still in local setup.
func Current(room *model.Room) model.Phase {
	if room == nil {
		return model.PhaseSetup
	}
	return room.Phase
}

// Start moves a lobby into the briefing. Roles must be written before the
// returned patch is applied.
func Start(room *model.Room) (model.RoomPatch, error) {
	if err := check(room, model.PhaseBriefing); err != nil {
		return model.RoomPatch{}, err
	}
	return model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}, nil
}

// Begin moves the briefing into the first day of the game
func Begin(room *model.Room) (model.RoomPatch, error) {
	if err := check(room, model.PhaseGame); err != nil {
		return model.RoomPatch{}, err
	}
	return model.RoomPatch{
		Phase:      model.Ptr(model.PhaseGame),
		GamePhase:  model.Ptr(model.GamePhaseDay),
		RoundCount: model.Ptr(1),
	}, nil
}

// Toggle flips day and night within a game
func Toggle(room *model.Room) (model.RoomPatch, error) {
	if room == nil {
		return model.RoomPatch{}, model.ErrNoActiveSession
	}
	if room.Phase != model.PhaseGame {
		return model.RoomPatch{}, fmt.Errorf("%w: toggle round outside %s (in %s)", model.ErrInvalidTransition, model.PhaseGame, room.Phase)
	}
	next, round := NextRound(room.GamePhase, room.RoundCount)
	return model.RoomPatch{
		GamePhase:  model.Ptr(next),
		RoundCount: model.Ptr(round),
	}, nil
}

// End finishes a game with a winning side
func End(room *model.Room, winner model.Winner) (model.RoomPatch, error) {
	if !winner.Valid() || winner == model.WinnerNone {
		return model.RoomPatch{}, fmt.Errorf("%w: %q", model.ErrInvalidWinner, winner)
	}
	if err := check(room, model.PhaseEnded); err != nil {
		return model.RoomPatch{}, err
	}
	return model.RoomPatch{
		Phase:  model.Ptr(model.PhaseEnded),
		Winner: model.Ptr(winner),
	}, nil
}

// Reset returns an ended session to the lobby with default round state
func Reset(room *model.Room) (model.RoomPatch, error) {
	if err := check(room, model.PhaseLobby); err != nil {
		return model.RoomPatch{}, err
	}
	return model.RoomPatch{
		Phase:      model.Ptr(model.PhaseLobby),
		GamePhase:  model.Ptr(model.GamePhaseDay),
		RoundCount: model.Ptr(1),
		Winner:     model.Ptr(model.WinnerNone),
	}, nil
}

// NextRound returns the round state after a toggle. The round advances only
// when night turns to day.
func NextRound(current model.GamePhase, round int) (model.GamePhase, int) {
	if round < 1 {
		round = 1
	}
	if current == model.GamePhaseNight {
		return model.GamePhaseDay, round + 1
	}
	return model.GamePhaseNight, round
}

func check(room *model.Room, target model.Phase) error {
	if room == nil {
		return model.ErrNoActiveSession
	}
	if !room.Phase.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, room.Phase, target)
	}
	return nil
}
