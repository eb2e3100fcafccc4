package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/pkg/iojson"
)

type UnreadCmd struct {
	flags *Flags

	jsonOutput bool
}

// NewUnreadCmd creates a new unread command
func NewUnreadCmd(flags *Flags) *UnreadCmd {
	return &UnreadCmd{flags: flags}
}

// Register adds the unread command to the application
func (cmd *UnreadCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "unread",
		Usage:     "Print the unread count",
		UsageText: "inbox unread [--json]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as a JSON object",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *UnreadCmd) run(ctx context.Context, c *cli.Command) error {
	if err := oneShot(ctx, cmd.flags); err != nil {
		return err
	}

	app := cmd.flags.App
	if err := app.Poller.Refresh(ctx); err != nil {
		return fmt.Errorf("fetch unread count: %w", err)
	}

	snap := app.Reconciler.Snapshot()
	out := c.Root().Writer
	if cmd.jsonOutput {
		return iojson.WriteLine(out, summarize(snap))
	}

	_, _ = fmt.Fprintln(out, snap.Unread)
	return nil
}
