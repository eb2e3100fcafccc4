package commands

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/internal/inbox"
)

type SendTestCmd struct {
	flags *Flags
}

// NewSendTestCmd creates the test command, which asks the server to emit a
// sample notification.
func NewSendTestCmd(flags *Flags) *SendTestCmd {
	return &SendTestCmd{flags: flags}
}

// Register adds the test command to the application
func (cmd *SendTestCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "test",
		Usage:     "Create a test notification",
		UsageText: "inbox test",
		Action:    cmd.run,
	})

	return app
}

func (cmd *SendTestCmd) run(ctx context.Context, c *cli.Command) error {
	return runCommand(ctx, c, cmd.flags, func(ctx context.Context, app *inbox.App) error {
		return app.Executor.CreateTest(ctx)
	})
}
