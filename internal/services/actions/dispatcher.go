// Package actions is the only write path to shared session state. Actions
// gate on the cached session, write to the backing store and return once the
// store accepts the write; the cache catches up through the feed. Room
// transitions are computed from the committed row inside the write.
//
// The host gate is enforced here on the client. It is a convention for a
// trusted group at one table, not a security boundary.
package actions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mcoot/pvg/internal/dependencies/clock"
	"github.com/mcoot/pvg/internal/dependencies/random"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/services/phase"
	"github.com/mcoot/pvg/internal/services/roles"
	"github.com/mcoot/pvg/internal/storage"
)

const (
	// RoomCodeLength is the length of generated room codes
	RoomCodeLength = 4
	// RoomCodeAlphabet is the characters used in room codes
	RoomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	maxCodeAttempts = 5
	maxNameLength   = 32
)

// Sessions is the session cache the dispatcher reads and opens
type Sessions interface {
	Backend() (storage.Backend, error)
	Open(ctx context.Context, code model.RoomCode) error
	Close()
	Code() model.RoomCode
	Room() *model.Room
	Player(id model.PlayerID) *model.Player
}

// Identity supplies the id of this device
type Identity interface {
	Get() string
}

// Memory remembers the session this device is in across restarts
type Memory interface {
	RememberedRoom() (model.RoomCode, error)
	Remember(code model.RoomCode) error
	Forget() error
}

// Dispatcher issues session actions on behalf of this device
type Dispatcher struct {
	sessions Sessions
	identity Identity
	memory   Memory
	assigner *roles.Assigner
	clock    clock.Clock
	random   random.Random
	logger   *slog.Logger
}

// New creates a new Dispatcher
func New(
	sessions Sessions,
	identity Identity,
	memory Memory,
	assigner *roles.Assigner,
	clock clock.Clock,
	random random.Random,
	logger *slog.Logger,
) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		identity: identity,
		memory:   memory,
		assigner: assigner,
		clock:    clock,
		random:   random,
		logger:   logger.With(slog.String("component", "actions")),
	}
}

// Self returns the player id of this device
func (d *Dispatcher) Self() model.PlayerID {
	return model.PlayerID(d.identity.Get())
}

// CreateSession creates a room with this device as its host and opens it
func (d *Dispatcher) CreateSession(ctx context.Context, hostName string) (model.RoomCode, error) {
	const op = "create session"

	name, err := normalizeName(op, hostName)
	if err != nil {
		return "", err
	}
	backend, err := d.sessions.Backend()
	if err != nil {
		return "", err
	}

	now := d.clock.Now()
	var code model.RoomCode
	for attempt := 1; ; attempt++ {
		code = model.RoomCode(d.random.String(RoomCodeLength, RoomCodeAlphabet))
		err = backend.InsertRoom(ctx, model.NewRoom(code, now))
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrRoomExists) || attempt >= maxCodeAttempts {
			return "", model.RequestError(op, err)
		}
		d.logger.Debug("room code taken, retrying", slog.String("room", string(code)))
	}

	host := &model.Player{
		ID:        d.Self(),
		RoomCode:  code,
		Name:      name,
		IsAlive:   true,
		Role:      model.RoleUnknown,
		IsHost:    true,
		CreatedAt: now,
	}
	if err := backend.UpsertPlayer(ctx, host); err != nil {
		return "", model.RequestError(op, err)
	}

	d.logger.Info("session created", slog.String("room", string(code)), slog.String("player_id", string(host.ID)))
	return code, d.enter(ctx, code)
}

// JoinSession adds this device to an existing room, or reconnects it. A
// rejoin only renames; host status, role and liveness are kept.
func (d *Dispatcher) JoinSession(ctx context.Context, code model.RoomCode, name string) error {
	const op = "join session"

	code = NormalizeCode(code)
	name, err := normalizeName(op, name)
	if err != nil {
		return err
	}
	backend, err := d.sessions.Backend()
	if err != nil {
		return err
	}

	if _, err := backend.GetRoom(ctx, code); err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			return model.ValidationError(op, fmt.Errorf("%w: %s", model.ErrRoomNotFound, code))
		}
		return model.RequestError(op, err)
	}

	self := d.Self()
	player, err := backend.GetPlayer(ctx, code, self)
	switch {
	case err == nil:
		player.Name = name
	case errors.Is(err, model.ErrPlayerNotFound):
		player = &model.Player{
			ID:        self,
			RoomCode:  code,
			Name:      name,
			IsAlive:   true,
			Role:      model.RoleUnknown,
			CreatedAt: d.clock.Now(),
		}
	default:
		return model.RequestError(op, err)
	}

	if err := backend.UpsertPlayer(ctx, player); err != nil {
		return model.RequestError(op, err)
	}

	d.logger.Info("session joined", slog.String("room", string(code)), slog.String("player_id", string(self)))
	return d.enter(ctx, code)
}

// ResumeSession reopens the session this device last entered, if any
func (d *Dispatcher) ResumeSession(ctx context.Context) (model.RoomCode, error) {
	code, err := d.memory.RememberedRoom()
	if err != nil {
		return "", model.ConfigurationError("resume session", err)
	}
	if code == "" {
		return "", model.ValidationError("resume session", model.ErrNoActiveSession)
	}
	if err := d.sessions.Open(ctx, code); err != nil {
		if errors.Is(err, model.ErrRoomNotFound) {
			d.forget()
		}
		return "", err
	}
	return code, nil
}

// StartSession deals roles over the current full roster and moves the lobby
// into the briefing. Roles are written before the phase so a device that sees
// the briefing never sees a roster still waiting for roles.
func (d *Dispatcher) StartSession(ctx context.Context) error {
	const op = "start session"

	backend, code, err := d.hostGate(op)
	if err != nil {
		return err
	}
	if err := d.precheck(ctx, op, backend, code, phase.Start); err != nil {
		return err
	}

	roster, err := backend.ListPlayers(ctx, code)
	if err != nil {
		return model.RequestError(op, err)
	}
	if len(roster) < roles.MinPlayers {
		return model.ValidationError(op, fmt.Errorf("%w: have %d, need %d", model.ErrInsufficientPlayers, len(roster), roles.MinPlayers))
	}

	assignment := d.assigner.Assign(roster)
	if err := backend.AssignRoles(ctx, code, assignment); err != nil {
		return model.RequestError(op, err)
	}
	if err := d.transition(ctx, op, backend, code, phase.Start); err != nil {
		return err
	}

	d.logger.Info("session started",
		slog.String("room", string(code)),
		slog.Int("players", len(roster)),
		slog.Int("predators", roles.PredatorCount(len(roster))),
	)
	return nil
}

// BeginGame leaves the briefing for the first day
func (d *Dispatcher) BeginGame(ctx context.Context) error {
	return d.updateRoom(ctx, "begin game", phase.Begin)
}

// ToggleRoundPhase flips between day and night
func (d *Dispatcher) ToggleRoundPhase(ctx context.Context) error {
	return d.updateRoom(ctx, "toggle round phase", phase.Toggle)
}

// EndSession ends the game with a winning side
func (d *Dispatcher) EndSession(ctx context.Context, winner model.Winner) error {
	return d.updateRoom(ctx, "end session", func(room *model.Room) (model.RoomPatch, error) {
		return phase.End(room, winner)
	})
}

// KillPlayer marks a player dead
func (d *Dispatcher) KillPlayer(ctx context.Context, id model.PlayerID) error {
	return d.setAlive(ctx, "kill player", id, false)
}

// RevivePlayer marks a player alive
func (d *Dispatcher) RevivePlayer(ctx context.Context, id model.PlayerID) error {
	return d.setAlive(ctx, "revive player", id, true)
}

// ResetSession returns an ended session to the lobby. Every player comes back
// alive with no role; without keepRoster everyone but the host is removed.
func (d *Dispatcher) ResetSession(ctx context.Context, keepRoster bool) error {
	const op = "reset session"

	backend, code, err := d.hostGate(op)
	if err != nil {
		return err
	}
	if err := d.precheck(ctx, op, backend, code, phase.Reset); err != nil {
		return err
	}

	if !keepRoster {
		roster, err := backend.ListPlayers(ctx, code)
		if err != nil {
			return model.RequestError(op, err)
		}
		var hosts []model.PlayerID
		for _, p := range roster {
			if p.IsHost {
				hosts = append(hosts, p.ID)
			}
		}
		if err := backend.DeletePlayersExcept(ctx, code, hosts); err != nil {
			return model.RequestError(op, err)
		}
	}

	reset := model.PlayerPatch{IsAlive: model.Ptr(true), Role: model.Ptr(model.RoleUnknown)}
	if err := backend.UpdatePlayers(ctx, code, reset); err != nil {
		return model.RequestError(op, err)
	}
	if err := d.transition(ctx, op, backend, code, phase.Reset); err != nil {
		return err
	}

	d.logger.Info("session reset", slog.String("room", string(code)), slog.Bool("keep_roster", keepRoster))
	return nil
}

// LeaveSession forgets the session locally. Shared state is untouched.
func (d *Dispatcher) LeaveSession() {
	code := d.sessions.Code()
	d.sessions.Close()
	d.forget()
	if code != "" {
		d.logger.Info("session left", slog.String("room", string(code)))
	}
}

// NormalizeCode upper-cases a typed room code and trims whitespace
func NormalizeCode(code model.RoomCode) model.RoomCode {
	return model.RoomCode(strings.ToUpper(strings.TrimSpace(string(code))))
}

func (d *Dispatcher) updateRoom(ctx context.Context, op string, fn storage.Transition) error {
	backend, code, err := d.hostGate(op)
	if err != nil {
		return err
	}
	if err := d.transition(ctx, op, backend, code, fn); err != nil {
		return err
	}
	d.logger.Debug("room updated", slog.String("room", string(code)), slog.String("action", op))
	return nil
}

// transition applies fn to the committed room in one write. The cached room
// may lag the store, so it is never the base of a patch.
func (d *Dispatcher) transition(ctx context.Context, op string, backend storage.Backend, code model.RoomCode, fn storage.Transition) error {
	var rejected error
	_, err := backend.TransitionRoom(ctx, code, func(room *model.Room) (model.RoomPatch, error) {
		patch, err := fn(room)
		rejected = err
		return patch, err
	})
	switch {
	case rejected != nil:
		return model.ValidationError(op, rejected)
	case errors.Is(err, model.ErrRoomNotFound):
		return model.ValidationError(op, err)
	case err != nil:
		return model.RequestError(op, err)
	}
	return nil
}

// precheck validates a transition against the committed room before the
// writes that have to precede it
func (d *Dispatcher) precheck(ctx context.Context, op string, backend storage.Backend, code model.RoomCode, fn storage.Transition) error {
	room, err := backend.GetRoom(ctx, code)
	switch {
	case errors.Is(err, model.ErrRoomNotFound):
		return model.ValidationError(op, err)
	case err != nil:
		return model.RequestError(op, err)
	}
	if _, err := fn(room); err != nil {
		return model.ValidationError(op, err)
	}
	return nil
}

func (d *Dispatcher) setAlive(ctx context.Context, op string, id model.PlayerID, alive bool) error {
	backend, code, err := d.hostGate(op)
	if err != nil {
		return err
	}
	if d.sessions.Player(id) == nil {
		return model.ValidationError(op, fmt.Errorf("%w: %s", model.ErrPlayerNotFound, id))
	}
	if err := backend.UpdatePlayer(ctx, code, id, model.PlayerPatch{IsAlive: model.Ptr(alive)}); err != nil {
		return model.RequestError(op, err)
	}
	d.logger.Info("player updated", slog.String("room", string(code)), slog.String("player_id", string(id)), slog.Bool("alive", alive))
	return nil
}

// hostGate checks that a session is open, primed and hosted by this device
func (d *Dispatcher) hostGate(op string) (storage.Backend, model.RoomCode, error) {
	code := d.sessions.Code()
	if code == "" {
		return nil, "", model.ValidationError(op, model.ErrNoActiveSession)
	}
	backend, err := d.sessions.Backend()
	if err != nil {
		return nil, "", err
	}
	if d.sessions.Room() == nil {
		return nil, "", model.ValidationError(op, model.ErrNoActiveSession)
	}
	self := d.sessions.Player(d.Self())
	if self == nil || !self.IsHost {
		return nil, "", model.ValidationError(op, model.ErrNotHost)
	}
	return backend, code, nil
}

// enter opens the session locally and remembers it
func (d *Dispatcher) enter(ctx context.Context, code model.RoomCode) error {
	if err := d.sessions.Open(ctx, code); err != nil {
		return err
	}
	if err := d.memory.Remember(code); err != nil {
		d.logger.Warn("failed to remember session", slog.String("room", string(code)), slog.String("error", err.Error()))
	}
	return nil
}

func (d *Dispatcher) forget() {
	if err := d.memory.Forget(); err != nil {
		d.logger.Warn("failed to forget session", slog.String("error", err.Error()))
	}
}

func normalizeName(op, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", model.ValidationError(op, model.ErrInvalidName)
	}
	if r := []rune(name); len(r) > maxNameLength {
		name = string(r[:maxNameLength])
	}
	return name, nil
}
