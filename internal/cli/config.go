package cli

import (
	"os"
	"time"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/storage/memory"
)

// Environment variables read by DefaultConfig
const (
	EnvServer = "PVG_SERVER"
	EnvToken  = "PVG_HTTP_TOKEN"
)

// DefaultWait bounds how long an action waits to be observed
const DefaultWait = 5 * time.Second

// Config holds CLI configuration
type Config struct {
	SettingsDir string
	Output      string
	Wait        time.Duration
	Verbose     bool

	// Companion view, used by the server commands and link build
	ServerURL string
	Token     string

	// Memory backs memory:// endpoints. Devices sharing one only exist within
	// a process, so this is set by tests.
	Memory *memory.Storage
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		SettingsDir: config.DefaultDir(),
		Output:      "text",
		Wait:        DefaultWait,
		ServerURL:   getEnvOrDefault(EnvServer, "http://127.0.0.1:8080"),
		Token:       os.Getenv(EnvToken),
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
