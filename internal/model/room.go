package model

import "time"

// RoomCode is the short human-shareable identifier of a session
type RoomCode string

// Phase is the coarse state of a session
type Phase string

const (
	PhaseSetup    Phase = "SETUP" // Local only, no room row yet
	PhaseLobby    Phase = "LOBBY"
	PhaseBriefing Phase = "BRIEFING"
	PhaseGame     Phase = "GAME"
	PhaseEnded    Phase = "ENDED"
)

// Valid returns true for a known phase
func (p Phase) Valid() bool {
	switch p {
	case PhaseSetup, PhaseLobby, PhaseBriefing, PhaseGame, PhaseEnded:
		return true
	}
	return false
}

// CanTransitionTo checks if a transition from the current phase to target is valid
func (p Phase) CanTransitionTo(target Phase) bool {
	validTransitions := map[Phase][]Phase{
		PhaseSetup:    {PhaseLobby},
		PhaseLobby:    {PhaseBriefing},
		PhaseBriefing: {PhaseGame},
		PhaseGame:     {PhaseEnded},
		PhaseEnded:    {PhaseLobby}, // Reset
	}

	for _, phase := range validTransitions[p] {
		if phase == target {
			return true
		}
	}
	return false
}

// GamePhase is the day/night sub-state, meaningful only while Phase is GAME
type GamePhase string

const (
	GamePhaseDay   GamePhase = "DAY"
	GamePhaseNight GamePhase = "NIGHT"
)

// Valid returns true for a known round phase
func (g GamePhase) Valid() bool {
	return g == GamePhaseDay || g == GamePhaseNight
}

// Winner records which side won an ended session
type Winner string

const (
	WinnerNone      Winner = "NONE"
	WinnerPredators Winner = "PREDATORS"
	WinnerGuardians Winner = "GUARDIANS"
)

// Valid returns true for a known winner value
func (w Winner) Valid() bool {
	switch w {
	case WinnerNone, WinnerPredators, WinnerGuardians:
		return true
	}
	return false
}

// Room is the shared session record, one per session
type Room struct {
	Code       RoomCode  `json:"code"`
	Phase      Phase     `json:"phase"`
	GamePhase  GamePhase `json:"game_phase"`
	RoundCount int       `json:"round_count"`
	Winner     Winner    `json:"winner"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewRoom returns a room in the lobby with default round state
func NewRoom(code RoomCode, now time.Time) *Room {
	return &Room{
		Code:       code,
		Phase:      PhaseLobby,
		GamePhase:  GamePhaseDay,
		RoundCount: 1,
		Winner:     WinnerNone,
		CreatedAt:  now,
	}
}

// RoomPatch is a partial update of a room row. Nil fields are left untouched.
type RoomPatch struct {
	Phase      *Phase     `json:"phase,omitempty"`
	GamePhase  *GamePhase `json:"game_phase,omitempty"`
	RoundCount *int       `json:"round_count,omitempty"`
	Winner     *Winner    `json:"winner,omitempty"`
}

// Apply writes the set fields of the patch onto the room
func (p RoomPatch) Apply(r *Room) {
	if p.Phase != nil {
		r.Phase = *p.Phase
	}
	if p.GamePhase != nil {
		r.GamePhase = *p.GamePhase
	}
	if p.RoundCount != nil {
		r.RoundCount = *p.RoundCount
	}
	if p.Winner != nil {
		r.Winner = *p.Winner
	}
}

// IsEmpty returns true if the patch changes nothing
func (p RoomPatch) IsEmpty() bool {
	return p.Phase == nil && p.GamePhase == nil && p.RoundCount == nil && p.Winner == nil
}
