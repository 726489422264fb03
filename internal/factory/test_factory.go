package factory

import (
	"context"
	"log/slog"
	"time"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/dependencies/mocks"
	"github.com/mcoot/pvg/internal/identity"
	"github.com/mcoot/pvg/internal/storage/memory"
)

// MemoryEndpoint is the endpoint test apps connect to
const MemoryEndpoint = "memory://local"

// TestApp extends App with test-specific helpers
type TestApp struct {
	*App

	// Mocks for test control
	MockClock  *mocks.MockClock
	MockRandom *mocks.MockRandom
}

// NewTestApp creates an App with mocked clock and random, keeping its
// settings in dir. Apps created over the same shared storage behave like
// devices around one table.
func NewTestApp(dir string, shared *memory.Storage, logger *slog.Logger) *TestApp {
	settings := config.New(dir)
	ident := identity.NewProvider(identity.FilePersister{Path: settings.ClientIDPath()}, logger)
	mockClock := mocks.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
	mockClock.Step = time.Second
	mockRandom := mocks.NewMockRandom()

	app := newWithDependencies(settings, ident, NewConnector(nil, shared, logger), mockClock, mockRandom, logger)

	return &TestApp{
		App:        app,
		MockClock:  mockClock,
		MockRandom: mockRandom,
	}
}

// ConnectMemory points the app at the shared memory backend
func (t *TestApp) ConnectMemory(ctx context.Context) error {
	return t.Configure(ctx, config.Backend{URL: MemoryEndpoint})
}
