package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/internal/inbox"
	"github.com/colonyops/inbox/pkg/iojson"
)

type LsCmd struct {
	flags *Flags

	// flags
	limit      int
	jsonOutput bool
}

// NewLsCmd creates a new ls command
func NewLsCmd(flags *Flags) *LsCmd {
	return &LsCmd{flags: flags}
}

// Register adds the ls command to the application
func (cmd *LsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "ls",
		Usage:     "List recent notifications",
		UsageText: "inbox ls [--limit N] [--json]",
		Description: `Fetches the most recent notifications and prints them newest first.
Unread items are marked with an asterisk.

Use --json for one JSON object per notification.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "number of notifications to fetch (defaults to poll.list_limit)",
				Destination: &cmd.limit,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON lines",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *LsCmd) run(ctx context.Context, c *cli.Command) error {
	app := cmd.flags.App

	if cmd.limit > 0 {
		pc := inbox.PollerConfigFrom(cmd.flags.Config)
		pc.ListLimit = cmd.limit
		app.Poller.SetConfig(pc)
	}

	if err := oneShot(ctx, cmd.flags); err != nil {
		return err
	}
	if err := app.Gate.Resync(ctx); err != nil {
		return fmt.Errorf("list notifications: %w", err)
	}

	snap := app.Reconciler.Snapshot()
	out := c.Root().Writer

	if cmd.jsonOutput {
		for _, n := range snap.Items {
			if err := iojson.WriteLine(out, n); err != nil {
				return fmt.Errorf("encode notification: %w", err)
			}
		}
		return nil
	}

	if len(snap.Items) == 0 {
		fmt.Fprintf(os.Stderr, "No notifications\n")
		return nil
	}

	if err := writeItems(out, snap.Items, time.Now()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "\n%d unread\n", snap.Unread)
	return nil
}
