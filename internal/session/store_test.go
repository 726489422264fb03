package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/feed"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/storage"
	"github.com/mcoot/pvg/internal/storage/memory"
	"github.com/mcoot/pvg/internal/testutil"
)

var memoryBackend = config.Backend{URL: "memory://test"}

// stubConnector hands out handles on a shared memory storage
type stubConnector struct {
	mu      sync.Mutex
	shared  *memory.Storage
	wrap    func(storage.Backend) storage.Backend
	err     error
	handles []storage.Backend
}

func (c *stubConnector) Connect(_ context.Context, _ config.Backend) (storage.Backend, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	var b storage.Backend = c.shared.Connect()
	if c.wrap != nil {
		b = c.wrap(b)
	}
	c.handles = append(c.handles, b)
	return b, nil
}

// brokenFeed fails to establish subscriptions
type brokenFeed struct {
	storage.Backend
}

func (b brokenFeed) Subscribe(_ context.Context, f feed.Filter, _ feed.Listener) (feed.Subscription, error) {
	return nil, model.ChannelError("subscribe "+f.String(), errors.New("connection refused"))
}

// flakyRoster fails roster reads once armed
type flakyRoster struct {
	storage.Backend
	mu    sync.Mutex
	armed bool
}

func (f *flakyRoster) ListPlayers(ctx context.Context, code model.RoomCode) ([]model.Player, error) {
	f.mu.Lock()
	armed := f.armed
	f.mu.Unlock()
	if armed {
		return nil, errors.New("read timeout")
	}
	return f.Backend.ListPlayers(ctx, code)
}

type StoreSuite struct {
	suite.Suite
	shared    *memory.Storage
	connector *stubConnector
	store     *Store
	ctx       context.Context
	start     time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.shared = memory.New(testutil.NopLogger())
	s.connector = &stubConnector{shared: s.shared}
	s.store = NewStore(s.connector, testutil.NopLogger())
	s.ctx = context.Background()
	s.start = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	s.Require().NoError(s.shared.InsertRoom(s.ctx, model.NewRoom("ABCD", s.start)))
	for _, p := range testutil.Roster("ABCD", 3, s.start) {
		s.Require().NoError(s.shared.UpsertPlayer(s.ctx, &p))
	}
}

func (s *StoreSuite) TearDownTest() {
	_ = s.store.Shutdown()
}

func (s *StoreSuite) waitFor(cond func(Snapshot) bool) Snapshot {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	snap, err := s.store.WaitFor(ctx, cond)
	s.Require().NoError(err, "condition not reached; last snapshot %+v", snap)
	return snap
}

func (s *StoreSuite) openABCD() {
	s.Require().NoError(s.store.Reconfigure(s.ctx, memoryBackend))
	s.Require().NoError(s.store.Open(s.ctx, "ABCD"))
}

func (s *StoreSuite) TestNewStoreIsIdle() {
	snap := s.store.Snapshot()
	s.Equal(StatusIdle, snap.Status)
	s.Equal(model.PhaseSetup, snap.Phase)
	s.False(snap.Configured)
	s.Empty(snap.Players)

	_, err := s.store.Backend()
	s.True(model.IsKind(err, model.KindConfiguration))
}

func (s *StoreSuite) TestOpenWithoutBackend() {
	err := s.store.Open(s.ctx, "ABCD")
	s.True(model.IsKind(err, model.KindConfiguration))
	s.ErrorIs(err, model.ErrNotConfigured)
}

func (s *StoreSuite) TestReconfigureRejectsInvalidBackend() {
	err := s.store.Reconfigure(s.ctx, config.Backend{URL: "redis://x"})
	s.True(model.IsKind(err, model.KindConfiguration))
	s.Empty(s.connector.handles)
}

func (s *StoreSuite) TestOpenPrimesCache() {
	s.openABCD()

	snap := s.store.Snapshot()
	s.Equal(StatusConnected, snap.Status)
	s.Equal(model.RoomCode("ABCD"), snap.Code)
	s.Equal(model.PhaseLobby, snap.Phase)
	s.Require().Len(snap.Players, 3)
	s.Equal(model.PlayerID("player-01"), snap.Players[0].ID)
	s.True(snap.Players[0].IsHost)
	s.Equal(2, s.shared.SubscriptionCount())
}

func (s *StoreSuite) TestOpenUnknownRoom() {
	s.Require().NoError(s.store.Reconfigure(s.ctx, memoryBackend))

	err := s.store.Open(s.ctx, "NOPE")
	s.True(model.IsKind(err, model.KindValidation))
	s.ErrorIs(err, model.ErrRoomNotFound)

	snap := s.store.Snapshot()
	s.Equal(StatusIdle, snap.Status)
	s.Empty(snap.Code)
	s.Zero(s.shared.SubscriptionCount())
}

func (s *StoreSuite) TestRoomEventReplacesRoom() {
	s.openABCD()

	s.Require().NoError(s.shared.UpdateRoom(s.ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}))

	snap := s.waitFor(func(sn Snapshot) bool { return sn.Phase == model.PhaseBriefing })
	s.Equal(1, snap.Room.RoundCount)
}

func (s *StoreSuite) TestPlayerEventRereadsRoster() {
	s.openABCD()

	s.Require().NoError(s.shared.UpsertPlayer(s.ctx, &model.Player{
		ID: "late", RoomCode: "ABCD", Name: "Late", IsAlive: true, Role: model.RoleUnknown, CreatedAt: s.start.Add(time.Minute),
	}))

	snap := s.waitFor(func(sn Snapshot) bool { return len(sn.Players) == 4 })
	s.Equal(model.PlayerID("late"), snap.Players[3].ID)
}

func (s *StoreSuite) TestStaleEpochEventsIgnored() {
	s.openABCD()
	stale := s.store.Epoch()

	s.Require().NoError(s.store.Reconfigure(s.ctx, memoryBackend))
	s.Greater(s.store.Epoch(), stale)

	ended := model.NewRoom("ABCD", s.start)
	ended.Phase = model.PhaseEnded
	s.store.applyRoom(stale, feed.RoomChange(feed.OpUpdate, *ended))

	s.Equal(model.PhaseLobby, s.store.Snapshot().Phase)
}

func (s *StoreSuite) TestStaleFailureIgnored() {
	s.openABCD()
	stale := s.store.Epoch()
	s.Require().NoError(s.store.Reconfigure(s.ctx, memoryBackend))

	s.store.fail(stale, errors.New("old socket died"))

	status, err := s.store.Status()
	s.Equal(StatusConnected, status)
	s.NoError(err)
}

func (s *StoreSuite) TestReconfigureReopensActiveRoom() {
	s.openABCD()

	s.Require().NoError(s.store.Reconfigure(s.ctx, memoryBackend))

	snap := s.store.Snapshot()
	s.Equal(StatusConnected, snap.Status)
	s.Equal(model.RoomCode("ABCD"), snap.Code)
	s.Len(snap.Players, 3)
	// Old handle's subscriptions are gone, new ones live
	s.Equal(2, s.shared.SubscriptionCount())
	s.Len(s.connector.handles, 2)

	s.Require().NoError(s.shared.UpdateRoom(s.ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}))
	s.waitFor(func(sn Snapshot) bool { return sn.Phase == model.PhaseBriefing })
}

func (s *StoreSuite) TestReconfigureConnectFailure() {
	s.connector.err = model.RequestError("ping redis", errors.New("dial tcp: refused"))

	err := s.store.Reconfigure(s.ctx, memoryBackend)
	s.Require().Error(err)

	status, lastErr := s.store.Status()
	s.Equal(StatusDisconnected, status)
	s.True(model.IsKind(lastErr, model.KindChannel))
}

func (s *StoreSuite) TestChannelEstablishmentFailure() {
	s.connector.wrap = func(b storage.Backend) storage.Backend { return brokenFeed{b} }
	s.Require().NoError(s.store.Reconfigure(s.ctx, memoryBackend))

	err := s.store.Open(s.ctx, "ABCD")
	s.True(model.IsKind(err, model.KindChannel))

	snap := s.store.Snapshot()
	s.Equal(StatusDisconnected, snap.Status)
	s.NotEmpty(snap.Error)
	// Primed data is kept
	s.Len(snap.Players, 3)
}

func (s *StoreSuite) TestChannelLossDisconnects() {
	s.openABCD()

	s.Require().NoError(s.shared.Close())

	snap := s.waitFor(func(sn Snapshot) bool { return sn.Status == StatusDisconnected })
	s.Contains(snap.Error, model.ErrChannelClosed.Error())
}

func (s *StoreSuite) TestRosterReadFailureKeepsPreviousRoster() {
	var flaky *flakyRoster
	s.connector.wrap = func(b storage.Backend) storage.Backend {
		flaky = &flakyRoster{Backend: b}
		return flaky
	}
	s.openABCD()

	flaky.mu.Lock()
	flaky.armed = true
	flaky.mu.Unlock()
	s.Require().NoError(s.shared.UpdatePlayer(s.ctx, "ABCD", "player-02", model.PlayerPatch{IsAlive: model.Ptr(false)}))
	// Room events travel on their own subscription; use one to let the roster event land
	s.Require().NoError(s.shared.UpdateRoom(s.ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}))
	s.waitFor(func(sn Snapshot) bool { return sn.Phase == model.PhaseBriefing })
	time.Sleep(20 * time.Millisecond)

	snap := s.store.Snapshot()
	s.Require().Len(snap.Players, 3)
	s.True(snap.Players[1].IsAlive)
}

func (s *StoreSuite) TestCloseClearsCacheAndUnsubscribes() {
	s.openABCD()

	s.store.Close()

	snap := s.store.Snapshot()
	s.Equal(StatusIdle, snap.Status)
	s.Empty(snap.Code)
	s.Nil(snap.Room)
	s.Empty(snap.Players)
	s.True(snap.Configured)
	s.Zero(s.shared.SubscriptionCount())
}

func (s *StoreSuite) TestUpdatesDeliversSnapshots() {
	s.openABCD()
	ctx, cancel := context.WithCancel(s.ctx)
	updates := s.store.Updates(ctx)

	s.Require().NoError(s.shared.UpdateRoom(s.ctx, "ABCD", model.RoomPatch{Phase: model.Ptr(model.PhaseBriefing)}))

	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-updates:
			if snap.Phase == model.PhaseBriefing {
				cancel()
				for range updates {
				}
				return
			}
		case <-deadline:
			cancel()
			s.FailNow("no briefing snapshot delivered")
		}
	}
}

func (s *StoreSuite) TestWaitForTimesOut() {
	ctx, cancel := context.WithTimeout(s.ctx, 20*time.Millisecond)
	defer cancel()

	_, err := s.store.WaitFor(ctx, func(Snapshot) bool { return false })
	s.ErrorIs(err, context.DeadlineExceeded)
}

func (s *StoreSuite) TestReadAccessorsReturnCopies() {
	s.openABCD()

	room := s.store.Room()
	room.Phase = model.PhaseEnded
	players := s.store.Players()
	players[0].Name = "Mallory"
	p := s.store.Player("player-01")
	p.IsHost = false

	s.Equal(model.PhaseLobby, s.store.Room().Phase)
	s.Equal("Player 1", s.store.Players()[0].Name)
	s.True(s.store.Player("player-01").IsHost)
	s.Nil(s.store.Player("ghost"))
	s.Equal(model.RoomCode("ABCD"), s.store.Code())
}
