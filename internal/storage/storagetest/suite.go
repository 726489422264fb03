// Package storagetest holds the behaviour every backing store must share.
// Implementations embed BackendSuite and provide a constructor.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/storage"
)

// BackendSuite exercises a storage.Backend through its public contract
type BackendSuite struct {
	suite.Suite

	// NewBackend returns a fresh, empty backend for each test
	NewBackend func() storage.Backend

	Backend storage.Backend
	Ctx     context.Context
	Start   time.Time
}

func (s *BackendSuite) SetupTest() {
	s.Backend = s.NewBackend()
	s.Ctx = context.Background()
	s.Start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
}

func (s *BackendSuite) TearDownTest() {
	if s.Backend != nil {
		_ = s.Backend.Close()
	}
}

func (s *BackendSuite) insertRoom(code model.RoomCode) {
	s.Require().NoError(s.Backend.InsertRoom(s.Ctx, model.NewRoom(code, s.Start)))
}

func (s *BackendSuite) addPlayer(code model.RoomCode, id model.PlayerID, offset time.Duration) {
	s.Require().NoError(s.Backend.UpsertPlayer(s.Ctx, &model.Player{
		ID:        id,
		RoomCode:  code,
		Name:      string(id),
		IsAlive:   true,
		Role:      model.RoleUnknown,
		CreatedAt: s.Start.Add(offset),
	}))
}

// Recorder collects change events delivered to a listener
type Recorder struct {
	mu      sync.Mutex
	changes []feed.Change
	Errs    chan error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{Errs: make(chan error, 1)}
}

// Listener returns a feed listener that records into r
func (r *Recorder) Listener() feed.Listener {
	return feed.Listener{
		OnChange: func(c feed.Change) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.changes = append(r.changes, c)
		},
		OnError: func(err error) {
			select {
			case r.Errs <- err:
			default:
			}
		},
	}
}

// Changes returns a copy of the recorded changes
func (r *Recorder) Changes() []feed.Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.Change, len(r.changes))
	copy(out, r.changes)
	return out
}

func (s *BackendSuite) waitForChanges(r *Recorder, n int) []feed.Change {
	s.Require().Eventually(func() bool { return len(r.Changes()) >= n }, 2*time.Second, 5*time.Millisecond)
	return r.Changes()
}

// Room tests

func (s *BackendSuite) TestInsertAndGetRoom() {
	s.insertRoom("ABCD")

	room, err := s.Backend.GetRoom(s.Ctx, "ABCD")
	s.Require().NoError(err)
	s.Equal(model.PhaseLobby, room.Phase)
	s.Equal(model.GamePhaseDay, room.GamePhase)
	s.Equal(1, room.RoundCount)
	s.Equal(model.WinnerNone, room.Winner)
}

func (s *BackendSuite) TestInsertRoomFirstWriterWins() {
	s.insertRoom("ABCD")

	err := s.Backend.InsertRoom(s.Ctx, model.NewRoom("ABCD", s.Start.Add(time.Hour)))
	s.ErrorIs(err, model.ErrRoomExists)

	room, _ := s.Backend.GetRoom(s.Ctx, "ABCD")
	s.True(room.CreatedAt.Equal(s.Start))
}

func (s *BackendSuite) TestGetRoomNotFound() {
	_, err := s.Backend.GetRoom(s.Ctx, "NONE")
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *BackendSuite) TestUpdateRoomAppliesPatchOnly() {
	s.insertRoom("ABCD")

	err := s.Backend.UpdateRoom(s.Ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)})
	s.Require().NoError(err)

	room, _ := s.Backend.GetRoom(s.Ctx, "ABCD")
	s.Equal(model.PhaseBriefing, room.Phase)
	s.Equal(1, room.RoundCount)
}

func (s *BackendSuite) TestUpdateRoomNotFound() {
	err := s.Backend.UpdateRoom(s.Ctx, "NONE", model.RoomPatch{Phase: model.Ptr(model.PhaseGame)})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *BackendSuite) TestTransitionRoomAppliesToCommittedRow() {
	s.insertRoom("ABCD")
	bump := func(room *model.Room) (model.RoomPatch, error) {
		return model.RoomPatch{RoundCount: model.Ptr(room.RoundCount + 1)}, nil
	}

	_, err := s.Backend.TransitionRoom(s.Ctx, "ABCD", bump)
	s.Require().NoError(err)
	room, err := s.Backend.TransitionRoom(s.Ctx, "ABCD", bump)
	s.Require().NoError(err)
	s.Equal(3, room.RoundCount)

	stored, _ := s.Backend.GetRoom(s.Ctx, "ABCD")
	s.Equal(3, stored.RoundCount)
}

func (s *BackendSuite) TestTransitionRoomRejected() {
	s.insertRoom("ABCD")
	rejected := errors.New("rejected")

	_, err := s.Backend.TransitionRoom(s.Ctx, "ABCD", func(*model.Room) (model.RoomPatch, error) {
		return model.RoomPatch{Phase: model.Ptr(model.PhaseGame)}, rejected
	})
	s.ErrorIs(err, rejected)

	room, _ := s.Backend.GetRoom(s.Ctx, "ABCD")
	s.Equal(model.PhaseLobby, room.Phase)
}

func (s *BackendSuite) TestTransitionRoomNotFound() {
	_, err := s.Backend.TransitionRoom(s.Ctx, "NONE", func(*model.Room) (model.RoomPatch, error) {
		return model.RoomPatch{}, nil
	})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

// Player tests

func (s *BackendSuite) TestUpsertPlayerRequiresRoom() {
	err := s.Backend.UpsertPlayer(s.Ctx, &model.Player{ID: "p1", RoomCode: "NONE"})
	s.ErrorIs(err, model.ErrRoomNotFound)
}

func (s *BackendSuite) TestUpsertPlayerKeepsCreatedAt() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)

	err := s.Backend.UpsertPlayer(s.Ctx, &model.Player{
		ID: "p1", RoomCode: "ABCD", Name: "Renamed", IsAlive: true, CreatedAt: s.Start.Add(time.Hour),
	})
	s.Require().NoError(err)

	p, err := s.Backend.GetPlayer(s.Ctx, "ABCD", "p1")
	s.Require().NoError(err)
	s.Equal("Renamed", p.Name)
	s.True(p.CreatedAt.Equal(s.Start))
}

func (s *BackendSuite) TestSamePlayerIDInTwoRooms() {
	s.insertRoom("ABCD")
	s.insertRoom("WXYZ")
	s.addPlayer("ABCD", "p1", 0)
	s.addPlayer("WXYZ", "p1", 0)

	a, _ := s.Backend.ListPlayers(s.Ctx, "ABCD")
	b, _ := s.Backend.ListPlayers(s.Ctx, "WXYZ")
	s.Len(a, 1)
	s.Len(b, 1)
}

func (s *BackendSuite) TestListPlayersOrderedByJoinTime() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "late", 3*time.Second)
	s.addPlayer("ABCD", "early", time.Second)
	s.addPlayer("ABCD", "middle", 2*time.Second)

	players, err := s.Backend.ListPlayers(s.Ctx, "ABCD")
	s.Require().NoError(err)
	s.Require().Len(players, 3)
	s.Equal(model.PlayerID("early"), players[0].ID)
	s.Equal(model.PlayerID("middle"), players[1].ID)
	s.Equal(model.PlayerID("late"), players[2].ID)
}

func (s *BackendSuite) TestListPlayersEmptyRoom() {
	players, err := s.Backend.ListPlayers(s.Ctx, "NONE")
	s.Require().NoError(err)
	s.Empty(players)
}

func (s *BackendSuite) TestUpdatePlayerPatchesOneRow() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)
	s.addPlayer("ABCD", "p2", time.Second)

	err := s.Backend.UpdatePlayer(s.Ctx, "ABCD", "p1", model.PlayerPatch{IsAlive: model.Ptr(false)})
	s.Require().NoError(err)

	p1, _ := s.Backend.GetPlayer(s.Ctx, "ABCD", "p1")
	p2, _ := s.Backend.GetPlayer(s.Ctx, "ABCD", "p2")
	s.False(p1.IsAlive)
	s.Equal("p1", p1.Name)
	s.True(p2.IsAlive)
}

func (s *BackendSuite) TestUpdatePlayerNotFound() {
	s.insertRoom("ABCD")
	err := s.Backend.UpdatePlayer(s.Ctx, "ABCD", "ghost", model.PlayerPatch{IsAlive: model.Ptr(false)})
	s.ErrorIs(err, model.ErrPlayerNotFound)
}

func (s *BackendSuite) TestUpdatePlayersPatchesWholeRoster() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)
	s.addPlayer("ABCD", "p2", time.Second)
	_ = s.Backend.UpdatePlayer(s.Ctx, "ABCD", "p2", model.PlayerPatch{IsAlive: model.Ptr(false), Role: model.Ptr(model.RolePredator)})

	err := s.Backend.UpdatePlayers(s.Ctx, "ABCD", model.PlayerPatch{IsAlive: model.Ptr(true), Role: model.Ptr(model.RoleUnknown)})
	s.Require().NoError(err)

	players, _ := s.Backend.ListPlayers(s.Ctx, "ABCD")
	for _, p := range players {
		s.True(p.IsAlive)
		s.Equal(model.RoleUnknown, p.Role)
	}
}

func (s *BackendSuite) TestAssignRolesAppliesBatch() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)
	s.addPlayer("ABCD", "p2", time.Second)

	err := s.Backend.AssignRoles(s.Ctx, "ABCD", map[model.PlayerID]model.Role{
		"p1": model.RolePredator,
		"p2": model.RoleGuardian,
	})
	s.Require().NoError(err)

	players, _ := s.Backend.ListPlayers(s.Ctx, "ABCD")
	s.Equal(model.RolePredator, players[0].Role)
	s.Equal(model.RoleGuardian, players[1].Role)
}

func (s *BackendSuite) TestAssignRolesUnknownPlayerAppliesNothing() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)

	err := s.Backend.AssignRoles(s.Ctx, "ABCD", map[model.PlayerID]model.Role{
		"p1":    model.RolePredator,
		"ghost": model.RoleGuardian,
	})
	s.ErrorIs(err, model.ErrPlayerNotFound)

	p1, _ := s.Backend.GetPlayer(s.Ctx, "ABCD", "p1")
	s.Equal(model.RoleUnknown, p1.Role)
}

func (s *BackendSuite) TestDeletePlayersExcept() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "host", 0)
	s.addPlayer("ABCD", "p2", time.Second)
	s.addPlayer("ABCD", "p3", 2*time.Second)

	err := s.Backend.DeletePlayersExcept(s.Ctx, "ABCD", []model.PlayerID{"host"})
	s.Require().NoError(err)

	players, _ := s.Backend.ListPlayers(s.Ctx, "ABCD")
	s.Require().Len(players, 1)
	s.Equal(model.PlayerID("host"), players[0].ID)
}

// Feed tests

func (s *BackendSuite) TestRoomFeedDeliversNewRowState() {
	s.insertRoom("ABCD")
	rec := NewRecorder()
	sub, err := s.Backend.Subscribe(s.Ctx, feed.RoomFilter("ABCD"), rec.Listener())
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.Require().NoError(s.Backend.UpdateRoom(s.Ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}))

	changes := s.waitForChanges(rec, 1)
	s.Equal(model.TableRooms, changes[0].Table)
	s.Equal(feed.OpUpdate, changes[0].Op)
	s.Equal(model.PhaseBriefing, changes[0].Room.Phase)
}

func (s *BackendSuite) TestFeedFiltersByRoom() {
	s.insertRoom("ABCD")
	s.insertRoom("WXYZ")
	rec := NewRecorder()
	sub, err := s.Backend.Subscribe(s.Ctx, feed.PlayerFilter("ABCD"), rec.Listener())
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.addPlayer("WXYZ", "other", 0)
	s.addPlayer("ABCD", "mine", 0)

	changes := s.waitForChanges(rec, 1)
	time.Sleep(20 * time.Millisecond)
	changes = rec.Changes()
	s.Require().Len(changes, 1)
	s.Equal(model.PlayerID("mine"), changes[0].Player.ID)
	s.Equal(feed.OpInsert, changes[0].Op)
}

func (s *BackendSuite) TestPlayerFeedPreservesCommitOrder() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)
	rec := NewRecorder()
	sub, err := s.Backend.Subscribe(s.Ctx, feed.PlayerFilter("ABCD"), rec.Listener())
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.Require().NoError(s.Backend.UpdatePlayer(s.Ctx, "ABCD", "p1", model.PlayerPatch{IsAlive: model.Ptr(false)}))
	s.Require().NoError(s.Backend.UpdatePlayer(s.Ctx, "ABCD", "p1", model.PlayerPatch{IsAlive: model.Ptr(true)}))
	s.Require().NoError(s.Backend.UpdatePlayer(s.Ctx, "ABCD", "p1", model.PlayerPatch{IsAlive: model.Ptr(false)}))

	changes := s.waitForChanges(rec, 3)
	s.False(changes[0].Player.IsAlive)
	s.True(changes[1].Player.IsAlive)
	s.False(changes[2].Player.IsAlive)
}

func (s *BackendSuite) TestAssignRolesEmitsOneEventPerRow() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "p1", 0)
	s.addPlayer("ABCD", "p2", time.Second)
	rec := NewRecorder()
	sub, err := s.Backend.Subscribe(s.Ctx, feed.PlayerFilter("ABCD"), rec.Listener())
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.Require().NoError(s.Backend.AssignRoles(s.Ctx, "ABCD", map[model.PlayerID]model.Role{
		"p1": model.RoleGuardian,
		"p2": model.RolePredator,
	}))

	changes := s.waitForChanges(rec, 2)
	roles := map[model.PlayerID]model.Role{}
	for _, c := range changes {
		roles[c.Player.ID] = c.Player.Role
	}
	s.Equal(model.RoleGuardian, roles["p1"])
	s.Equal(model.RolePredator, roles["p2"])
}

func (s *BackendSuite) TestDeleteEmitsDeleteEvents() {
	s.insertRoom("ABCD")
	s.addPlayer("ABCD", "host", 0)
	s.addPlayer("ABCD", "guest", time.Second)
	rec := NewRecorder()
	sub, err := s.Backend.Subscribe(s.Ctx, feed.PlayerFilter("ABCD"), rec.Listener())
	s.Require().NoError(err)
	defer func() { _ = sub.Unsubscribe() }()

	s.Require().NoError(s.Backend.DeletePlayersExcept(s.Ctx, "ABCD", []model.PlayerID{"host"}))

	changes := s.waitForChanges(rec, 1)
	s.Equal(feed.OpDelete, changes[0].Op)
	s.Equal(model.PlayerID("guest"), changes[0].Player.ID)
}

func (s *BackendSuite) TestUnsubscribeStopsDelivery() {
	s.insertRoom("ABCD")
	rec := NewRecorder()
	sub, err := s.Backend.Subscribe(s.Ctx, feed.RoomFilter("ABCD"), rec.Listener())
	s.Require().NoError(err)

	s.Require().NoError(sub.Unsubscribe())
	s.Require().NoError(s.Backend.UpdateRoom(s.Ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}))

	time.Sleep(30 * time.Millisecond)
	s.Empty(rec.Changes())
}
