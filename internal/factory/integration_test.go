package factory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
	"github.com/mcoot/pvg/internal/storage/memory"
	"github.com/mcoot/pvg/internal/testutil"
)

type IntegrationSuite struct {
	suite.Suite
	shared *memory.Storage
	apps   []*TestApp
	ctx    context.Context
}

func TestIntegrationSuite(t *testing.T) {
	suite.Run(t, new(IntegrationSuite))
}

func (s *IntegrationSuite) SetupTest() {
	s.ctx = context.Background()
	s.shared = memory.New(testutil.NopLogger())
	s.apps = nil
}

func (s *IntegrationSuite) TearDownTest() {
	for _, app := range s.apps {
		_ = app.Close()
	}
}

// device creates a connected app; later devices join later
func (s *IntegrationSuite) device() *TestApp {
	app := NewTestApp(s.T().TempDir(), s.shared, testutil.NopLogger())
	app.MockClock.Advance(time.Duration(len(s.apps)) * time.Minute)
	s.Require().NoError(app.ConnectMemory(s.ctx))
	s.apps = append(s.apps, app)
	return app
}

func (s *IntegrationSuite) waitFor(app *TestApp, cond func(session.Snapshot) bool) session.Snapshot {
	ctx, cancel := context.WithTimeout(s.ctx, 2*time.Second)
	defer cancel()
	snap, err := app.Sessions.WaitFor(ctx, cond)
	s.Require().NoError(err, "condition not reached; last snapshot %+v", snap)
	return snap
}

// Test: Complete session from creation to a reset lobby
func (s *IntegrationSuite) TestCompleteSessionFlow() {
	host := s.device()
	host.MockRandom.QueueString("PVG1")

	// Step 1: Host creates the session
	code, err := host.Dispatcher.CreateSession(s.ctx, "Alice")
	s.Require().NoError(err)
	s.Equal(model.RoomCode("PVG1"), code)

	// Step 2: Two more devices join, one with a lower-case code
	bob := s.device()
	s.Require().NoError(bob.Dispatcher.JoinSession(s.ctx, "pvg1", "Bob"))
	carol := s.device()
	s.Require().NoError(carol.Dispatcher.JoinSession(s.ctx, code, "Carol"))

	snap := s.waitFor(host, func(snap session.Snapshot) bool { return len(snap.Players) == 3 })
	s.Equal([]string{"Alice", "Bob", "Carol"}, names(snap.Players))

	// Step 3: Guests cannot drive the session
	s.ErrorIs(bob.Dispatcher.StartSession(s.ctx), model.ErrNotHost)

	// Step 4: Host starts; every device sees the briefing with roles dealt
	s.Require().NoError(host.Dispatcher.StartSession(s.ctx))
	for _, app := range []*TestApp{host, bob, carol} {
		snap := s.waitFor(app, func(snap session.Snapshot) bool {
			return snap.Phase == model.PhaseBriefing && model.CountRoles(snap.Players)[model.RoleUnknown] == 0
		})
		counts := model.CountRoles(snap.Players)
		s.Equal(2, counts[model.RolePredator])
		s.Equal(1, counts[model.RoleGuardian])
	}

	// Step 5: Host begins the game and runs a night
	s.Require().NoError(host.Dispatcher.BeginGame(s.ctx))
	s.Require().NoError(host.Dispatcher.ToggleRoundPhase(s.ctx))
	s.waitFor(carol, func(snap session.Snapshot) bool {
		return snap.Room != nil && snap.Room.GamePhase == model.GamePhaseNight && snap.Room.RoundCount == 1
	})
	s.Require().NoError(host.Dispatcher.ToggleRoundPhase(s.ctx))
	s.waitFor(carol, func(snap session.Snapshot) bool {
		return snap.Room != nil && snap.Room.GamePhase == model.GamePhaseDay && snap.Room.RoundCount == 2
	})

	// Step 6: Bob is eliminated
	s.waitFor(host, func(snap session.Snapshot) bool { return snap.Player(bob.Self()) != nil })
	s.Require().NoError(host.Dispatcher.KillPlayer(s.ctx, bob.Self()))
	s.waitFor(bob, func(snap session.Snapshot) bool {
		p := snap.Player(bob.Self())
		return p != nil && !p.IsAlive
	})

	// Step 7: Host ends the session
	s.Require().NoError(host.Dispatcher.EndSession(s.ctx, model.WinnerGuardians))
	snap = s.waitFor(bob, func(snap session.Snapshot) bool { return snap.Phase == model.PhaseEnded })
	s.Equal(model.WinnerGuardians, snap.Room.Winner)

	// Step 8: Reset keeps the roster and clears the round state
	s.Require().NoError(host.Dispatcher.ResetSession(s.ctx, true))
	snap = s.waitFor(carol, func(snap session.Snapshot) bool {
		if snap.Phase != model.PhaseLobby {
			return false
		}
		for _, p := range snap.Players {
			if !p.IsAlive || p.Role != model.RoleUnknown {
				return false
			}
		}
		return true
	})
	s.Len(snap.Players, 3)
	s.Equal(1, snap.Room.RoundCount)
	s.Equal(model.WinnerNone, snap.Room.Winner)
}

// Test: A device restarted from the same settings resumes its session
func (s *IntegrationSuite) TestResumeAfterRestart() {
	host := s.device()
	host.MockRandom.QueueString("RSME")
	code, err := host.Dispatcher.CreateSession(s.ctx, "Alice")
	s.Require().NoError(err)
	self := host.Self()
	dir := host.Settings.Dir
	s.Require().NoError(host.Close())
	s.apps = s.apps[:0]

	restarted := NewTestApp(dir, s.shared, testutil.NopLogger())
	s.apps = append(s.apps, restarted)
	s.Require().NoError(restarted.Connect(s.ctx))

	resumed, err := restarted.Resume(s.ctx)
	s.Require().NoError(err)
	s.Equal(code, resumed)
	s.Equal(self, restarted.Self())

	snap := restarted.Sessions.Snapshot()
	s.Equal(session.StatusConnected, snap.Status)
	s.Require().NotNil(snap.Player(self))
	s.True(snap.Player(self).IsHost)
}

// Test: Unconfigured devices stay idle and report a configuration error
func (s *IntegrationSuite) TestUnconfiguredDevice() {
	app := NewTestApp(s.T().TempDir(), s.shared, testutil.NopLogger())
	s.apps = append(s.apps, app)

	s.Require().NoError(app.Connect(s.ctx))
	s.Equal(session.StatusIdle, app.Sessions.Snapshot().Status)

	_, err := app.Dispatcher.CreateSession(s.ctx, "Alice")
	s.True(model.IsKind(err, model.KindConfiguration))

	err = app.Configure(s.ctx, config.Backend{URL: "redis://localhost:6379"})
	s.True(model.IsKind(err, model.KindConfiguration))
}

// Test: SSE hubs follow the active session
func (s *IntegrationSuite) TestBroadcastingFollowsSession() {
	host := s.device()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	host.StartBroadcasting(ctx)

	host.MockRandom.QueueString("LIVE")
	_, err := host.Dispatcher.CreateSession(s.ctx, "Alice")
	s.Require().NoError(err)

	s.Eventually(func() bool {
		hub := host.HubManager.GetHub("LIVE")
		if hub == nil {
			return false
		}
		latest := hub.Latest()
		return latest != nil && len(latest.Players) == 1
	}, 2*time.Second, 5*time.Millisecond)

	host.Dispatcher.LeaveSession()
	s.Eventually(func() bool {
		return host.HubManager.GetHub("LIVE") == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRedisEndToEnd(t *testing.T) {
	mini := miniredis.RunT(t)
	mini.RequireAuth("secret")
	backend := config.Backend{URL: fmt.Sprintf("redis://%s", mini.Addr()), Key: "secret"}
	ctx := context.Background()

	newDevice := func(name string) *App {
		app := New(Config{SettingsDir: t.TempDir(), Logger: testutil.NopLogger()})
		t.Cleanup(func() { _ = app.Close() })
		if err := app.Configure(ctx, backend); err != nil {
			t.Fatalf("configure %s: %v", name, err)
		}
		return app
	}

	host := newDevice("host")
	code, err := host.Dispatcher.CreateSession(ctx, "Alice")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	guests := []*App{newDevice("bob"), newDevice("carol")}
	for i, g := range guests {
		if err := g.Dispatcher.JoinSession(ctx, code, fmt.Sprintf("Guest %d", i+1)); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := host.Sessions.WaitFor(waitCtx, func(snap session.Snapshot) bool { return len(snap.Players) == 3 }); err != nil {
		t.Fatalf("host never saw the full roster: %v", err)
	}

	if err := host.Dispatcher.StartSession(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, g := range guests {
		snap, err := g.Sessions.WaitFor(waitCtx, func(snap session.Snapshot) bool {
			self := snap.Player(g.Self())
			return snap.Phase == model.PhaseBriefing && self != nil && self.Role != model.RoleUnknown
		})
		if err != nil {
			t.Fatalf("guest never saw its role: %v (last %+v)", err, snap)
		}
	}

	// The backend is saved so a restart reconnects
	saved, err := host.Settings.LoadBackend()
	if err != nil || saved != backend {
		t.Fatalf("saved backend = %+v, %v", saved, err)
	}
}

func names(players []model.Player) []string {
	out := make([]string, 0, len(players))
	for _, p := range players {
		out = append(out, p.Name)
	}
	return out
}
