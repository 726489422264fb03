package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/pvg/internal/config"
	"github.com/mcoot/pvg/internal/factory"
	"github.com/mcoot/pvg/internal/joinlink"
	"github.com/mcoot/pvg/internal/services/actions"
)

func newLinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Share and open join links",
	}

	cmd.AddCommand(newLinkBuildCmd())
	cmd.AddCommand(newLinkOpenCmd())

	return cmd
}

func newLinkBuildCmd() *cobra.Command {
	var base string
	var roomOnly bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build a join link for the remembered session",
		Long: `Build a join link carrying the remembered room code and, unless --room-only
is given, the backend endpoint and credential so a new device can join in one step.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings := config.New(cfg.SettingsDir)
			code, err := settings.RememberedRoom()
			if err != nil {
				return err
			}

			var backend config.Backend
			if !roomOnly {
				if backend, err = settings.LoadBackend(); err != nil {
					return err
				}
			}

			if base == "" {
				base = strings.TrimSuffix(cfg.ServerURL, "/") + "/join"
			}
			link, err := joinlink.Build(base, code, backend)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(LinkInfo{URL: link, Room: code, Configured: !backend.IsZero()})
			return nil
		},
	}

	cmd.Flags().StringVar(&base, "base", "", "Link base URL (default: <server>/join)")
	cmd.Flags().BoolVar(&roomOnly, "room-only", false, "Leave the backend settings out")

	return cmd
}

func newLinkOpenCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "open <link>",
		Short: "Apply a join link and optionally join its room",
		Long: `Apply the backend settings carried by a join link. With --name the room in
the link is joined as well. A malformed link is ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewOutput(cfg.Output, cmd.OutOrStdout())

			link, err := joinlink.Parse(args[0])
			if err != nil {
				newLogger(cmd.ErrOrStderr()).Warn("ignoring malformed join link", slog.String("error", err.Error()))
				out.PrintMessage("Ignored malformed join link")
				return nil
			}

			return withApp(cmd, func(app *factory.App) error {
				if link.Backend != nil {
					if err := configureFrom(cmd, app, *link.Backend); err != nil {
						return err
					}
				}

				if name == "" || link.Room == "" {
					out.Print(LinkInfo{Room: link.Room, Configured: link.Backend != nil})
					return nil
				}

				if err := app.Dispatcher.JoinSession(cmd.Context(), link.Room, name); err != nil {
					return err
				}
				return report(cmd, app, actions.Entered(link.Room, app.Self()), false)
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Join the linked room under this name")

	return cmd
}
