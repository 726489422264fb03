package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/mcoot/pvg/internal/api"
	"github.com/mcoot/pvg/internal/factory"
	"github.com/mcoot/pvg/internal/joinlink"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/session"
	"github.com/mcoot/pvg/internal/storage/memory"
	"github.com/mcoot/pvg/internal/testutil"
)

type CLISuite struct {
	suite.Suite
	shared *memory.Storage
}

func TestCLISuite(t *testing.T) {
	suite.Run(t, new(CLISuite))
}

func (s *CLISuite) SetupTest() {
	s.shared = memory.New(testutil.NopLogger())
}

// result is the output of one command
type result struct {
	stdout string
	stderr string
	err    error
}

func (s *CLISuite) run(dir string, args ...string) result {
	return s.runWith(&Config{SettingsDir: dir}, args...)
}

func (s *CLISuite) runWith(c *Config, args ...string) result {
	if c.Output == "" {
		c.Output = "json"
	}
	if c.Wait == 0 {
		c.Wait = 2 * time.Second
	}
	if c.ServerURL == "" {
		c.ServerURL = "http://127.0.0.1:8080"
	}
	c.Memory = s.shared

	cmd := NewRootCmdWith(c)
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

// lockedBuffer is written by a running command while the test reads it
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// device returns the settings directory of a new device on the shared backend
func (s *CLISuite) device() string {
	dir := s.T().TempDir()
	res := s.run(dir, "config", "set", factory.MemoryEndpoint, "table-key")
	s.Require().NoError(res.err, res.stderr)
	return dir
}

func (s *CLISuite) view(res result) session.View {
	s.Require().NoError(res.err, res.stderr)
	s.Require().NotContains(res.stderr, "not observed")
	var v session.View
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &v), res.stdout)
	return v
}

func (s *CLISuite) TestIDIsStable() {
	dir := s.T().TempDir()

	var first, second Identity
	res := s.run(dir, "id")
	s.Require().NoError(res.err)
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &first))

	res = s.run(dir, "id")
	s.Require().NoError(res.err)
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &second))

	s.NotEmpty(first.ID)
	s.Equal(first.ID, second.ID)
}

func (s *CLISuite) TestConfigSetAndShow() {
	dir := s.T().TempDir()

	var info BackendInfo
	res := s.run(dir, "config", "show")
	s.Require().NoError(res.err)
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &info))
	s.Empty(info.URL)

	res = s.run(dir, "config", "set", "ftp://example.com", "key")
	s.Error(res.err)

	res = s.run(dir, "config", "set", factory.MemoryEndpoint, "secret")
	s.Require().NoError(res.err, res.stderr)

	res = s.run(dir, "config", "show")
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &info))
	s.Equal(factory.MemoryEndpoint, info.URL)
	s.Equal("****", info.Key)
	s.Equal("memory", info.Scheme)

	res = s.run(dir, "config", "show", "--show-key")
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &info))
	s.Equal("secret", info.Key)
}

func (s *CLISuite) TestConfigExportImport() {
	source := s.device()
	file := filepath.Join(s.T().TempDir(), "settings.json")

	res := s.run(source, "config", "export", file)
	s.Require().NoError(res.err, res.stderr)

	target := s.T().TempDir()
	res = s.run(target, "config", "import", file)
	s.Require().NoError(res.err, res.stderr)

	res = s.run(target, "config", "show", "--show-key")
	var info BackendInfo
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &info))
	s.Equal(factory.MemoryEndpoint, info.URL)
	s.Equal("table-key", info.Key)

	bad := filepath.Join(s.T().TempDir(), "bad.json")
	s.Require().NoError(os.WriteFile(bad, []byte(`{"url":"memory://local"}`), 0600))
	res = s.run(s.T().TempDir(), "config", "import", bad)
	s.Error(res.err)
}

func (s *CLISuite) TestSessionWithoutBackend() {
	res := s.run(s.T().TempDir(), "session", "create", "Alice")
	s.Require().Error(res.err)
	s.True(model.IsKind(res.err, model.KindConfiguration))
}

func (s *CLISuite) TestCompleteSessionFlow() {
	host, bob, carol := s.device(), s.device(), s.device()

	created := s.view(s.run(host, "session", "create", "Alice"))
	code := created.Code
	s.Require().NotEmpty(code)
	s.True(created.IsHost)

	joined := s.view(s.run(bob, "session", "join", strings.ToLower(string(code)), "Bob"))
	s.Equal(code, joined.Code)
	s.False(joined.IsHost)
	s.view(s.run(carol, "session", "join", string(code), "Carol"))

	// Guests cannot drive the session
	res := s.run(bob, "session", "start")
	s.Require().Error(res.err)
	s.ErrorIs(res.err, model.ErrNotHost)

	started := s.view(s.run(host, "session", "start"))
	s.Equal(model.PhaseBriefing, started.Phase)
	s.Len(started.Players, 3)
	s.Equal(2, started.Predators)
	s.Equal(1, started.Guardians)
	for _, p := range started.Players {
		if p.ID == started.Self {
			s.NotEqual(model.RoleUnknown, p.Role)
		} else {
			s.Equal(model.RoleUnknown, p.Role)
		}
	}

	revealed := s.view(s.run(host, "session", "show", "--reveal"))
	s.True(revealed.RolesRevealed)
	for _, p := range revealed.Players {
		s.NotEqual(model.RoleUnknown, p.Role)
	}

	// A guest sees only its own role even when asking for all
	guestView := s.view(s.run(bob, "session", "show", "--reveal"))
	s.False(guestView.RolesRevealed)
	s.NotEqual(model.RoleUnknown, guestView.Player(guestView.Self).Role)

	s.Equal(model.PhaseGame, s.view(s.run(host, "session", "begin")).Phase)

	toggled := s.view(s.run(host, "session", "toggle"))
	s.Equal(model.GamePhaseNight, toggled.Room.GamePhase)
	s.Equal(1, toggled.Room.RoundCount)

	toggled = s.view(s.run(host, "session", "toggle"))
	s.Equal(model.GamePhaseDay, toggled.Room.GamePhase)
	s.Equal(2, toggled.Room.RoundCount)

	killed := s.view(s.run(host, "session", "kill", "bob"))
	bobID := guestView.Self
	s.False(killed.Player(bobID).IsAlive)

	revived := s.view(s.run(host, "session", "revive", string(bobID)))
	s.True(revived.Player(bobID).IsAlive)

	res = s.run(host, "session", "kill", "nobody")
	s.ErrorIs(res.err, model.ErrPlayerNotFound)

	res = s.run(host, "session", "end", "draw")
	s.ErrorIs(res.err, model.ErrInvalidWinner)

	ended := s.view(s.run(host, "session", "end", "guardians"))
	s.Equal(model.PhaseEnded, ended.Phase)
	s.Equal(model.WinnerGuardians, ended.Room.Winner)

	reset := s.view(s.run(host, "session", "reset", "--keep-roster=false"))
	s.Equal(model.PhaseLobby, reset.Phase)
	s.Require().Len(reset.Players, 1)
	s.Equal("Alice", reset.Players[0].Name)
}

func (s *CLISuite) TestTextOutput() {
	host := s.device()
	s.view(s.run(host, "session", "create", "Alice"))

	res := s.runWith(&Config{SettingsDir: host, Output: "text"}, "session", "show")
	s.Require().NoError(res.err, res.stderr)
	s.Contains(res.stdout, "Room: ")
	s.Contains(res.stdout, "Phase: LOBBY")
	s.Contains(res.stdout, "Alice")
	s.Contains(res.stdout, "[host] [you]")
}

func (s *CLISuite) TestLeaveForgetsSession() {
	host := s.device()
	s.view(s.run(host, "session", "create", "Alice"))

	res := s.run(host, "session", "leave")
	s.Require().NoError(res.err)
	s.Contains(res.stdout, "Left session")

	res = s.run(host, "session", "show")
	s.ErrorIs(res.err, model.ErrNoActiveSession)
}

func (s *CLISuite) TestLinkBuildAndOpen() {
	host := s.device()
	code := s.view(s.run(host, "session", "create", "Alice")).Code

	var built LinkInfo
	res := s.run(host, "link", "build", "--base", "https://pvg.example/join")
	s.Require().NoError(res.err, res.stderr)
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &built))
	s.Equal(code, built.Room)
	s.True(built.Configured)

	link, err := joinlink.Parse(built.URL)
	s.Require().NoError(err)
	s.Equal(code, link.Room)
	s.Require().NotNil(link.Backend)
	s.Equal("table-key", link.Backend.Key)

	// A new device configures itself from the link and joins
	dave := s.T().TempDir()
	joined := s.view(s.run(dave, "link", "open", built.URL, "--name", "Dave"))
	s.Equal(code, joined.Code)
	s.NotNil(joined.Player(joined.Self))

	res = s.run(host, "link", "build", "--room-only")
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &built))
	s.NotContains(built.URL, joinlink.ParamKey+"=")
	s.True(strings.HasPrefix(built.URL, "http://127.0.0.1:8080/join?"))
}

func (s *CLISuite) TestLinkOpenIgnoresMalformed() {
	dir := s.T().TempDir()

	res := s.run(dir, "link", "open", "https://pvg.example/join?room=ABCD&u=@@@@&k=@@@@")
	s.Require().NoError(res.err)
	s.Contains(res.stdout, "Ignored malformed join link")
	s.Contains(res.stderr, "ignoring malformed join link")

	res = s.run(dir, "config", "show")
	var info BackendInfo
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &info))
	s.Empty(info.URL)
}

func (s *CLISuite) TestWatchPrintsUpdates() {
	host, bob := s.device(), s.device()
	code := s.view(s.run(host, "session", "create", "Alice")).Code

	c := &Config{SettingsDir: host, Output: "json", Wait: 2 * time.Second, ServerURL: "http://127.0.0.1:8080", Memory: s.shared}
	cmd := NewRootCmdWith(c)
	out := &lockedBuffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"watch"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	s.Eventually(func() bool { return strings.Contains(out.String(), `"code":"`+string(code)+`"`) }, 2*time.Second, 10*time.Millisecond)

	// Commands share package state, so the guest joins through the dispatcher
	guest := factory.New(factory.Config{Logger: testutil.NopLogger(), SettingsDir: bob, Memory: s.shared})
	defer func() { _ = guest.Close() }()
	s.Require().NoError(guest.Connect(context.Background()))
	s.Require().NoError(guest.Dispatcher.JoinSession(context.Background(), code, "Bob"))

	s.Eventually(func() bool { return strings.Contains(out.String(), `"name":"Bob"`) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(2 * time.Second):
		s.Fail("watch did not stop")
	}

	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var v session.View
		s.NoError(json.Unmarshal([]byte(line), &v), line)
	}
}

func (s *CLISuite) TestServerHealth() {
	app := factory.NewTestApp(s.T().TempDir(), s.shared, testutil.NopLogger())
	defer func() { _ = app.Close() }()

	server := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Logger:     testutil.NopLogger(),
		Dispatcher: app.Dispatcher,
		Sessions:   app.Sessions,
		Settings:   app.Settings,
		Configurer: app,
		HubManager: app.HubManager,
		Token:      "tok",
	}))
	defer server.Close()

	res := s.runWith(&Config{SettingsDir: s.T().TempDir(), ServerURL: server.URL}, "server", "health")
	s.Require().NoError(res.err, res.stderr)
	var health HealthResult
	s.Require().NoError(json.Unmarshal([]byte(res.stdout), &health))
	s.Equal("ok", health.Status)
	s.Equal(string(session.StatusIdle), health.Session)
	s.False(health.Configured)

	res = s.runWith(&Config{SettingsDir: s.T().TempDir(), ServerURL: server.URL}, "server", "events")
	s.Require().Error(res.err)
	s.Contains(res.err.Error(), "UNAUTHORIZED")
}

func (s *CLISuite) TestServerEvents() {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal("/api/v1/session/events", r.URL.Path)
		s.Equal("true", r.URL.Query().Get("reveal"))
		s.Equal("Bearer tok", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("event: connected\ndata: {\"status\":\"connected\"}\n\n"))
		_, _ = w.Write([]byte(": keepalive\n\n"))
		_, _ = w.Write([]byte("event: snapshot\ndata: {\"code\":\"ABCD\"}\n\n"))
	}))
	defer server.Close()

	res := s.runWith(&Config{SettingsDir: s.T().TempDir(), ServerURL: server.URL, Token: "tok"}, "server", "events", "--reveal")
	s.Require().NoError(res.err, res.stderr)

	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	s.Require().Len(lines, 2)
	var ev SSEEvent
	s.Require().NoError(json.Unmarshal([]byte(lines[1]), &ev))
	s.Equal("snapshot", ev.Event)
	s.JSONEq(`{"code":"ABCD"}`, string(ev.Data))
}

func TestParseEvents(t *testing.T) {
	tests := []struct {
		name   string
		stream string
		want   []string
	}{
		{
			name:   "single event",
			stream: "event: snapshot\ndata: {}\n\n",
			want:   []string{"snapshot {}"},
		},
		{
			name:   "multi-line data",
			stream: "event: snapshot\ndata: a\ndata: b\n\n",
			want:   []string{"snapshot a\nb"},
		},
		{
			name:   "comments and data without event are skipped",
			stream: ": keepalive\n\ndata: orphan\n\nevent: connected\ndata: x\n\n",
			want:   []string{"connected x"},
		},
		{
			name:   "unterminated event is dropped",
			stream: "event: snapshot\ndata: {}\n",
			want:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			err := parseEvents(strings.NewReader(tt.stream), func(event, data string) {
				got = append(got, event+" "+data)
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolvePlayer(t *testing.T) {
	snap := session.Snapshot{Players: []model.Player{
		{ID: "p1", Name: "Alice"},
		{ID: "p2", Name: "Bob"},
		{ID: "p3", Name: "bob"},
		{ID: "p4", Name: "Carol"},
	}}

	tests := []struct {
		name    string
		arg     string
		want    model.PlayerID
		wantErr bool
	}{
		{name: "by id", arg: "p2", want: "p2"},
		{name: "by name", arg: "alice", want: "p1"},
		{name: "name with spaces", arg: " Carol ", want: "p4"},
		{name: "ambiguous name", arg: "BOB", wantErr: true},
		{name: "unknown", arg: "dave", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePlayer(snap, tt.arg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
