package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/factory"
)

func newIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "id",
		Short: "Print this device's player id",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := newApp(cmd)
			defer func() { _ = app.Close() }()

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(Identity{ID: app.Self()})
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Backend settings",
	}

	cmd.AddCommand(newConfigSetCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigExportCmd())
	cmd.AddCommand(newConfigImportCmd())

	return cmd
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <url> [key]",
		Short: "Save the backend endpoint and credential and connect to it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend := config.Backend{URL: args[0]}
			if len(args) > 1 {
				backend.Key = args[1]
			}

			app := newApp(cmd)
			defer func() { _ = app.Close() }()

			if err := app.Configure(cmd.Context(), backend); err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(backendInfo(backend, false))
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	var showKey bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := config.New(cfg.SettingsDir).LoadBackend()
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(backendInfo(backend, showKey))
			return nil
		},
	}

	cmd.Flags().BoolVar(&showKey, "show-key", false, "Print the credential in clear")

	return cmd
}

func newConfigExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the backend settings as JSON",
		Long:  "Write the backend settings, credential included, to a file or stdout.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.New(cfg.SettingsDir)
			if len(args) == 0 || args[0] == "-" {
				return settings.Export(cmd.OutOrStdout())
			}

			f, err := os.OpenFile(args[0], os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return err
			}
			if err := settings.Export(f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
}

func newConfigImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Read backend settings exported from another device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer func() { _ = f.Close() }()
				r = f
			}

			backend, err := config.New(cfg.SettingsDir).Import(r)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(backendInfo(backend, false))
			return nil
		},
	}
}

func backendInfo(b config.Backend, showKey bool) BackendInfo {
	if !showKey {
		b = b.Redacted()
	}
	return BackendInfo{URL: b.URL, Key: b.Key, Scheme: b.Scheme()}
}

// configureFrom applies a backend carried by a join link
func configureFrom(cmd *cobra.Command, app *factory.App, backend config.Backend) error {
	if err := app.Configure(cmd.Context(), backend); err != nil {
		return fmt.Errorf("apply link settings: %w", err)
	}
	return nil
}
