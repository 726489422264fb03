package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mcoot/pvg/internal/factory"
	"github.com/mcoot/pvg/internal/model"
	"github.com/mcoot/pvg/internal/services/actions"
	"github.com/mcoot/pvg/internal/session"
)

// newApp wires this device without connecting it
func newApp(cmd *cobra.Command) *factory.App {
	return factory.New(factory.Config{
		Logger:      newLogger(cmd.ErrOrStderr()),
		SettingsDir: cfg.SettingsDir,
		Memory:      cfg.Memory,
	})
}

// withApp runs fn with the device attached to its saved backend
func withApp(cmd *cobra.Command, fn func(app *factory.App) error) error {
	app := newApp(cmd)
	defer func() { _ = app.Close() }()

	if err := app.Connect(cmd.Context()); err != nil {
		return err
	}
	return fn(app)
}

// withSession runs fn with the remembered session open
func withSession(cmd *cobra.Command, fn func(app *factory.App) error) error {
	return withApp(cmd, func(app *factory.App) error {
		if _, err := app.Resume(cmd.Context()); err != nil {
			return err
		}
		return fn(app)
	})
}

// report waits for the effect of an action and prints the session
func report(cmd *cobra.Command, app *factory.App, cond actions.Condition, reveal bool) error {
	snap, observed, err := actions.Await(cmd.Context(), app.Sessions, cfg.Wait, cond)
	if err != nil {
		return err
	}
	if !observed {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: change not observed within %s\n", cfg.Wait)
	}

	out := NewOutput(cfg.Output, cmd.OutOrStdout())
	out.Print(snap.ViewFor(app.Self(), reveal))
	return nil
}

// resolvePlayer matches an id, or failing that a unique name
func resolvePlayer(snap session.Snapshot, arg string) (model.PlayerID, error) {
	if p := snap.Player(model.PlayerID(arg)); p != nil {
		return p.ID, nil
	}

	var found []model.PlayerID
	for _, p := range snap.Players {
		if strings.EqualFold(p.Name, strings.TrimSpace(arg)) {
			found = append(found, p.ID)
		}
	}
	switch len(found) {
	case 0:
		return "", model.ValidationError("find player", fmt.Errorf("%w: %s", model.ErrPlayerNotFound, arg))
	case 1:
		return found[0], nil
	default:
		return "", model.ValidationError("find player", fmt.Errorf("%d players are named %q, use the id", len(found), arg))
	}
}
