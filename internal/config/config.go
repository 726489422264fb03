// Package config holds the per-device settings: the backend connection, the
// remembered session code and the directory the client identity lives in.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mcoot/pvg/internal/model"
)

// Environment variables
const (
	EnvHome       = "PVG_HOME"
	EnvEndpoint   = "PVG_ENDPOINT"
	EnvCredential = "PVG_CREDENTIAL"
)

// File names under the settings directory
const (
	backendFile  = "backend.json"
	clientIDFile = "client_id"
	sessionFile  = "session"
)

// Endpoint schemes a backend can be reached on
const (
	SchemeRedis       = "redis"
	SchemeRedisTLS    = "rediss"
	SchemeMemory      = "memory"
	defaultHomeFolder = ".pvg"
)

// Backend is the endpoint and credential of the backing store
type Backend struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// IsZero returns true if nothing is configured
func (b Backend) IsZero() bool {
	return b.URL == "" && b.Key == ""
}

// Scheme returns the lower-cased endpoint scheme, or "" if the URL is unparsable
func (b Backend) Scheme() string {
	u, err := url.Parse(b.URL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

// Validate checks that the backend can be connected to. The in-process
// memory backend needs no credential.
func (b Backend) Validate() error {
	const op = "validate backend"
	if b.URL == "" {
		return model.ConfigurationError(op, fmt.Errorf("%w: endpoint missing", model.ErrNotConfigured))
	}
	switch b.Scheme() {
	case SchemeMemory:
		return nil
	case SchemeRedis, SchemeRedisTLS:
	default:
		return model.ConfigurationError(op, fmt.Errorf("unsupported endpoint %q", b.URL))
	}
	if b.Key == "" {
		return model.ConfigurationError(op, fmt.Errorf("%w: credential missing", model.ErrNotConfigured))
	}
	return nil
}

// Redacted returns a copy safe to print
func (b Backend) Redacted() Backend {
	if b.Key != "" {
		b.Key = "****"
	}
	return b
}

// Settings reads and writes the settings files of one device
type Settings struct {
	Dir string
}

// New creates settings rooted at dir
func New(dir string) *Settings {
	return &Settings{Dir: dir}
}

// DefaultDir returns $PVG_HOME, or ~/.pvg
func DefaultDir() string {
	if dir := os.Getenv(EnvHome); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return defaultHomeFolder
	}
	return filepath.Join(home, defaultHomeFolder)
}

// LoadEnv loads .env files into the environment. Missing files are ignored;
// variables already set win.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ClientIDPath returns the file the client identity is persisted in
func (s *Settings) ClientIDPath() string {
	return filepath.Join(s.Dir, clientIDFile)
}

// LoadBackend reads the saved backend and applies environment overrides.
// Nothing saved is not an error; the result is then validated by the caller.
func (s *Settings) LoadBackend() (Backend, error) {
	var b Backend
	data, err := os.ReadFile(filepath.Join(s.Dir, backendFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &b); err != nil {
			return Backend{}, model.ConfigurationError("load backend", err)
		}
	case !os.IsNotExist(err):
		return Backend{}, model.ConfigurationError("load backend", err)
	}

	b.URL = getEnvOrDefault(EnvEndpoint, b.URL)
	b.Key = getEnvOrDefault(EnvCredential, b.Key)
	return b, nil
}

// SaveBackend persists the backend, readable only by the owner
func (s *Settings) SaveBackend(b Backend) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	return s.write(backendFile, data)
}

// Export writes the saved backend as JSON
func (s *Settings) Export(w io.Writer) error {
	b, err := s.LoadBackend()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(b)
}

// Import reads backend JSON, validates it and saves it
func (s *Settings) Import(r io.Reader) (Backend, error) {
	var b Backend
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return Backend{}, model.ConfigurationError("import settings", err)
	}
	if b.URL == "" || b.Key == "" {
		return Backend{}, model.ConfigurationError("import settings", errors.New("settings must contain url and key"))
	}
	if err := b.Validate(); err != nil {
		return Backend{}, err
	}
	if err := s.SaveBackend(b); err != nil {
		return Backend{}, err
	}
	return b, nil
}

// RememberedRoom returns the code of the session this device last opened, or ""
func (s *Settings) RememberedRoom() (model.RoomCode, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir, sessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return model.RoomCode(strings.TrimSpace(string(data))), nil
}

// Remember records the active session code
func (s *Settings) Remember(code model.RoomCode) error {
	return s.write(sessionFile, []byte(code))
}

// Forget clears the remembered session code
func (s *Settings) Forget() error {
	err := os.Remove(filepath.Join(s.Dir, sessionFile))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Settings) write(name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0600)
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
