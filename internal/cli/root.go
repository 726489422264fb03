package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mcoot/pvg/internal/config"
)

var (
	cfg    *Config
	client *Client
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	return NewRootCmdWith(DefaultConfig())
}

// NewRootCmdWith creates the root command starting from the given config.
// Flags still override it.
func NewRootCmdWith(c *Config) *cobra.Command {
	cfg = c

	rootCmd := &cobra.Command{
		Use:   "pvg",
		Short: "CLI for Predators vs Guardians sessions",
		Long: `pvg runs a Predators vs Guardians party game session from the command line.

Every device at the table runs against the same backend. The host creates a
session, guests join with the room code, and the host drives the game through
its phases. State changes are observed through the backend's change feed.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Output != "text" && cfg.Output != "json" {
				return fmt.Errorf("unknown output format %q", cfg.Output)
			}

			client = NewClient(cfg.ServerURL, cfg.Token)
			return nil
		},
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfg.SettingsDir, "settings", cfg.SettingsDir, "Settings directory (env: "+config.EnvHome+")")
	rootCmd.PersistentFlags().StringVarP(&cfg.Output, "output", "o", cfg.Output, "Output format: text, json")
	rootCmd.PersistentFlags().DurationVar(&cfg.Wait, "wait", cfg.Wait, "How long to wait for an action to be observed")
	rootCmd.PersistentFlags().BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Companion view URL (env: "+EnvServer+")")
	rootCmd.PersistentFlags().StringVar(&cfg.Token, "token", cfg.Token, "Companion view token (env: "+EnvToken+")")

	// Add subcommands
	rootCmd.AddCommand(newIDCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newLinkCmd())
	rootCmd.AddCommand(newSessionCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newServerCmd())

	return rootCmd
}

// Execute runs the root command
func Execute() {
	// .env is read before the defaults that depend on it
	if err := config.LoadEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

// newLogger logs to stderr, quietly unless verbose
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
