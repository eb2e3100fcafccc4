package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/internal/inbox"
)

type RmCmd struct {
	flags *Flags
}

// NewRmCmd creates a new rm command
func NewRmCmd(flags *Flags) *RmCmd {
	return &RmCmd{flags: flags}
}

// Register adds the rm command to the application
func (cmd *RmCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "rm",
		Usage:     "Delete a notification",
		UsageText: "inbox rm <id>",
		Description: `Deletes a notification on the server. Deleting a notification that is
already gone succeeds.`,
		Action: cmd.run,
	})

	return app
}

func (cmd *RmCmd) run(ctx context.Context, c *cli.Command) error {
	if c.NArg() < 1 {
		return fmt.Errorf("usage: inbox rm <id>")
	}

	id := c.Args().Get(0)
	return runCommand(ctx, c, cmd.flags, func(ctx context.Context, app *inbox.App) error {
		return app.Executor.Delete(ctx, id)
	})
}
