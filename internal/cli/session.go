package cli

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/pvg/internal/factory"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/services/actions"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Session commands",
	}

	cmd.AddCommand(newSessionCreateCmd())
	cmd.AddCommand(newSessionJoinCmd())
	cmd.AddCommand(newSessionResumeCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionLeaveCmd())

	cmd.AddCommand(newActionCmd("start", "Deal roles and move to the briefing", cobra.NoArgs,
		func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error) {
			return actions.Dealt(), app.Dispatcher.StartSession(ctx)
		}))
	cmd.AddCommand(newActionCmd("begin", "Begin the game after the briefing", cobra.NoArgs,
		func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error) {
			return actions.InPhase(model.PhaseGame), app.Dispatcher.BeginGame(ctx)
		}))
	cmd.AddCommand(newActionCmd("toggle", "Switch between day and night", cobra.NoArgs,
		func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error) {
			before := app.Sessions.Room()
			return actions.RoundMoved(before), app.Dispatcher.ToggleRoundPhase(ctx)
		}))
	cmd.AddCommand(newActionCmd("kill <player>", "Mark a player dead", cobra.ExactArgs(1),
		func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error) {
			id, err := resolvePlayer(app.Sessions.Snapshot(), args[0])
			if err != nil {
				return nil, err
			}
			return actions.Alive(id, false), app.Dispatcher.KillPlayer(ctx, id)
		}))
	cmd.AddCommand(newActionCmd("revive <player>", "Bring a player back", cobra.ExactArgs(1),
		func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error) {
			id, err := resolvePlayer(app.Sessions.Snapshot(), args[0])
			if err != nil {
				return nil, err
			}
			return actions.Alive(id, true), app.Dispatcher.RevivePlayer(ctx, id)
		}))
	cmd.AddCommand(newActionCmd("end <predators|guardians>", "End the game with a winner", cobra.ExactArgs(1),
		func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error) {
			winner := model.Winner(strings.ToUpper(strings.TrimSpace(args[0])))
			return actions.InPhase(model.PhaseEnded), app.Dispatcher.EndSession(ctx, winner)
		}))
	cmd.AddCommand(newSessionResetCmd())

	return cmd
}

// newActionCmd builds a command that runs one action against the remembered
// session and prints the result once observed
func newActionCmd(
	use, short string,
	args cobra.PositionalArgs,
	do func(ctx context.Context, app *factory.App, args []string) (actions.Condition, error),
) *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(app *factory.App) error {
				cond, err := do(cmd.Context(), app, args)
				if err != nil {
					return err
				}
				return report(cmd, app, cond, reveal)
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show every role (host only)")

	return cmd
}

func newSessionCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <name>",
		Short: "Create a session and join it as host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *factory.App) error {
				code, err := app.Dispatcher.CreateSession(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return report(cmd, app, actions.Entered(code, app.Self()), false)
			})
		},
	}
}

func newSessionJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <code> <name>",
		Short: "Join a session by room code",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := actions.NormalizeCode(model.RoomCode(args[0]))
			return withApp(cmd, func(app *factory.App) error {
				if err := app.Dispatcher.JoinSession(cmd.Context(), code, args[1]); err != nil {
					return err
				}
				return report(cmd, app, actions.Entered(code, app.Self()), false)
			})
		},
	}
}

func newSessionResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Reopen the remembered session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *factory.App) error {
				code, err := app.Resume(cmd.Context())
				if err != nil {
					return err
				}
				return report(cmd, app, actions.Entered(code, app.Self()), false)
			})
		},
	}
}

func newSessionShowCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the remembered session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(app *factory.App) error {
				out := NewOutput(cfg.Output, cmd.OutOrStdout())
				out.Print(app.Sessions.Snapshot().ViewFor(app.Self(), reveal))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show every role (host only)")

	return cmd
}

func newSessionResetCmd() *cobra.Command {
	var keepRoster bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return an ended session to the lobby",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(app *factory.App) error {
				if err := app.Dispatcher.ResetSession(cmd.Context(), keepRoster); err != nil {
					return err
				}
				return report(cmd, app, actions.Reset(keepRoster), false)
			})
		},
	}

	cmd.Flags().BoolVar(&keepRoster, "keep-roster", true, "Keep the guests seated")

	return cmd
}

func newSessionLeaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "leave",
		Short: "Leave the session and forget it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app := newApp(cmd)
			defer func() { _ = app.Close() }()

			app.Dispatcher.LeaveSession()

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.PrintMessage("Left session")
			return nil
		},
	}
}
