package cli

import (
	"github.com/spf13/cobra"

	"github.com/mcoot/pvg/internal/factory"
)

func newWatchCmd() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the remembered session as it changes",
		Long: `Open the remembered session and print it every time the change feed
delivers an update. With -o json each snapshot is one line.

Press Ctrl+C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, func(app *factory.App) error {
				out := NewOutput(cfg.Output, cmd.OutOrStdout())
				updates := app.Sessions.Updates(cmd.Context())

				out.PrintLine(app.Sessions.Snapshot().ViewFor(app.Self(), reveal))
				for snap := range updates {
					out.PrintLine(snap.ViewFor(app.Self(), reveal))
					if snap.Code == "" {
						// Session closed underneath us
						return nil
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reveal, "reveal", false, "Show every role (host only)")

	return cmd
}
