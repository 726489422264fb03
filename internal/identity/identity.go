// Package identity provides the per-device client identifier that doubles as
// the player id in every room this device joins.
package identity

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Persister stores the identifier between runs
type Persister interface {
	// Load returns the stored identifier, or "" if none is stored
	Load() (string, error)
	Save(id string) error
}

// FilePersister keeps the identifier in a single file
type FilePersister struct {
	Path string
}

// Load reads the identifier file
func (p FilePersister) Load() (string, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Save writes the identifier file, creating its directory
func (p FilePersister) Save(id string) error {
	if err := os.MkdirAll(filepath.Dir(p.Path), 0700); err != nil {
		return err
	}
	return os.WriteFile(p.Path, []byte(id), 0600)
}

// Provider hands out the device identifier, generating it on first use
type Provider struct {
	persister Persister
	generate  func() string
	logger    *slog.Logger

	mu sync.Mutex
	id string
}

// NewProvider creates a provider generating random UUIDs
func NewProvider(persister Persister, logger *slog.Logger) *Provider {
	return &Provider{
		persister: persister,
		generate:  uuid.NewString,
		logger:    logger,
	}
}

// Get returns the device identifier. The first call loads it or generates and
// persists a new one; later calls return the same value. If loading or
// persisting fails the identifier is only kept for the lifetime of the process.
func (p *Provider) Get() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.id != "" {
		return p.id
	}

	stored, err := p.persister.Load()
	if err != nil {
		// The stored id may still be valid, so it is never overwritten here
		p.id = p.generate()
		p.logger.Warn("failed to load client id, using a temporary one",
			slog.String("client_id", p.id),
			slog.String("error", err.Error()),
		)
		return p.id
	}
	if stored != "" {
		p.id = stored
		return p.id
	}

	p.id = p.generate()
	if err := p.persister.Save(p.id); err != nil {
		p.logger.Error("failed to persist client id", slog.String("error", err.Error()))
	} else {
		p.logger.Info("generated client id", slog.String("client_id", p.id))
	}
	return p.id
}
