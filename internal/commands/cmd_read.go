package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/internal/inbox"
	"github.com/colonyops/inbox/pkg/iojson"
)

type ReadCmd struct {
	flags *Flags
}

// NewReadCmd creates the read and read-all commands.
func NewReadCmd(flags *Flags) *ReadCmd {
	return &ReadCmd{flags: flags}
}

// Register adds read and read-all to the application.
func (cmd *ReadCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "read",
			Usage:     "Mark a notification as read",
			UsageText: "inbox read <id>",
			Action:    cmd.runRead,
		},
		&cli.Command{
			Name:      "read-all",
			Usage:     "Mark every notification as read",
			UsageText: "inbox read-all",
			Description: `Marks all notifications read. The counter drops to zero immediately and is
re-checked against the server over the following seconds.`,
			Action: cmd.runReadAll,
		},
	)

	return app
}

func (cmd *ReadCmd) runRead(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: inbox read <id>")
	}

	id := c.Args().Get(0)
	return runCommand(ctx, c, cmd.flags, func(ctx context.Context, app *inbox.App) error {
		return app.Executor.MarkRead(ctx, id)
	})
}

func (cmd *ReadCmd) runReadAll(ctx context.Context, c *cli.Command) error {
	return runCommand(ctx, c, cmd.flags, func(ctx context.Context, app *inbox.App) error {
		return app.Executor.MarkAllRead(ctx)
	})
}

// runCommand signs in, runs fn through the executor, waits for its
// confirmation refreshes and prints the resulting summary.
func runCommand(ctx context.Context, c *cli.Command, flags *Flags, fn func(context.Context, *inbox.App) error) error {
	if err := oneShot(ctx, flags); err != nil {
		return err
	}

	app := flags.App
	if err := fn(ctx, app); err != nil {
		return err
	}
	settle(ctx, app)

	if err := iojson.WriteLine(c.Root().Writer, summarize(app.Reconciler.Snapshot())); err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	return nil
}
