package factory

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/dependencies/clock"
	"github.com/mcoot/pvg/internal/dependencies/random"
	"github.com/mcoot/pvg/internal/identity"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/services/actions"
	"github.com/mcoot/pvg/internal/services/roles"
	"github.com/mcoot/pvg/internal/session"
	"github.com/mcoot/pvg/internal/storage"
	"github.com/mcoot/pvg/internal/storage/memory"
	redisstorage "github.com/mcoot/pvg/internal/storage/redis"
	"github.com/mcoot/pvg/internal/web/sse"
)

// App contains all wired application components for one device
type App struct {
	// Local state
	Settings  *config.Settings
	Identity  *identity.Provider
	Connector *Connector

	// External dependencies
	Clock  clock.Clock
	Random random.Random

	// Services
	Sessions    *session.Store
	Assigner    *roles.Assigner
	Dispatcher  *actions.Dispatcher
	HubManager  *sse.HubManager
	Broadcaster *sse.Broadcaster

	logger *slog.Logger
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// SettingsDir is where settings and the client id are kept
	// If empty, config.DefaultDir() is used
	SettingsDir string
	// RedisConfig holds the pool settings for redis:// endpoints (optional)
	// The URL and password always come from the configured backend
	RedisConfig *redisstorage.Config
	// Memory is the process-local backend served for memory:// endpoints (optional)
	// Apps sharing one Memory see each other's sessions
	Memory *memory.Storage
}

// New creates a new application with all dependencies wired
func New(cfg Config) *App {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	dir := cfg.SettingsDir
	if dir == "" {
		dir = config.DefaultDir()
	}
	settings := config.New(dir)

	ident := identity.NewProvider(identity.FilePersister{Path: settings.ClientIDPath()}, logger)

	return newWithDependencies(settings, ident, NewConnector(cfg.RedisConfig, cfg.Memory, logger), clock.New(), random.New(), logger)
}

// newWithDependencies creates an App with the given dependencies (useful for testing)
func newWithDependencies(
	settings *config.Settings,
	ident *identity.Provider,
	connector *Connector,
	clk clock.Clock,
	rnd random.Random,
	logger *slog.Logger,
) *App {
	sessions := session.NewStore(connector, logger)
	assigner := roles.New(rnd)
	dispatcher := actions.New(sessions, ident, settings, assigner, clk, rnd, logger)
	hubManager := sse.NewHubManager(sse.NewRenderer(), logger)
	broadcaster := sse.NewBroadcaster(hubManager, logger)

	return &App{
		Settings:    settings,
		Identity:    ident,
		Connector:   connector,
		Clock:       clk,
		Random:      rnd,
		Sessions:    sessions,
		Assigner:    assigner,
		Dispatcher:  dispatcher,
		HubManager:  hubManager,
		Broadcaster: broadcaster,
		logger:      logger.With(slog.String("component", "app")),
	}
}

// Self returns this device's player id
func (a *App) Self() model.PlayerID {
	return a.Dispatcher.Self()
}

// Connect attaches the session store to the saved backend, if there is one.
// An unconfigured device stays idle and reports configuration errors on use.
func (a *App) Connect(ctx context.Context) error {
	backend, err := a.Settings.LoadBackend()
	if err != nil {
		return err
	}
	if backend.IsZero() {
		a.logger.Info("no backend configured")
		return nil
	}
	return a.Sessions.Reconfigure(ctx, backend)
}

// Configure validates and saves a new backend, then reconnects to it
func (a *App) Configure(ctx context.Context, backend config.Backend) error {
	if err := backend.Validate(); err != nil {
		return err
	}
	if err := a.Settings.SaveBackend(backend); err != nil {
		return err
	}
	return a.Sessions.Reconfigure(ctx, backend)
}

// Resume reopens the remembered session, if any
func (a *App) Resume(ctx context.Context) (model.RoomCode, error) {
	return a.Dispatcher.ResumeSession(ctx)
}

// StartBroadcasting streams session snapshots to SSE hubs until ctx is done
func (a *App) StartBroadcasting(ctx context.Context) {
	updates := a.Sessions.Updates(ctx)
	a.Broadcaster.Publish(a.Sessions.Snapshot())
	go a.Broadcaster.Run(ctx, updates)
}

// Close shuts the SSE hubs and the backend connection
func (a *App) Close() error {
	a.HubManager.Close()
	return a.Sessions.Shutdown()
}

// Connector opens a backend handle by endpoint scheme
type Connector struct {
	redis  redisstorage.Config
	memory *memory.Storage
	logger *slog.Logger
}

// Ensure Connector implements session.Connector
var _ session.Connector = (*Connector)(nil)

// NewConnector creates a connector. A nil redis config uses
// redisstorage.DefaultConfig(); a nil memory backend gets a private one.
func NewConnector(redisCfg *redisstorage.Config, mem *memory.Storage, logger *slog.Logger) *Connector {
	cfg := redisstorage.DefaultConfig()
	if redisCfg != nil {
		cfg = *redisCfg
	}
	if mem == nil {
		mem = memory.New(logger)
	}
	return &Connector{
		redis:  cfg,
		memory: mem,
		logger: logger.With(slog.String("component", "connector")),
	}
}

// Connect opens a handle on the backend the endpoint points at
func (c *Connector) Connect(ctx context.Context, backend config.Backend) (storage.Backend, error) {
	if err := backend.Validate(); err != nil {
		return nil, err
	}

	switch scheme := backend.Scheme(); scheme {
	case config.SchemeMemory:
		c.logger.Info("connecting to memory backend")
		return c.memory.Connect(), nil
	case config.SchemeRedis, config.SchemeRedisTLS:
		cfg := c.redis
		cfg.URL = backend.URL
		cfg.Password = backend.Key
		c.logger.Info("connecting to redis backend", slog.String("url", backend.URL))
		return redisstorage.New(cfg, c.logger)
	default:
		return nil, model.ConfigurationError("connect", fmt.Errorf("unsupported endpoint scheme %q", scheme))
	}
}
