package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/pkg/iojson"
)

type NoticesCmd struct {
	flags *Flags

	// flags
	clear      bool
	jsonOutput bool
}

// NewNoticesCmd creates a new notices command
func NewNoticesCmd(flags *Flags) *NoticesCmd {
	return &NoticesCmd{flags: flags}
}

// Register adds the notices command to the application
func (cmd *NoticesCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "notices",
		Usage:     "Show recent failure notices",
		UsageText: "inbox notices [--clear] [--json]",
		Description: `Notices are short messages raised when a command could not be applied,
such as a delete that failed. They are kept locally, newest first.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "clear",
				Usage:       "delete all stored notices",
				Destination: &cmd.clear,
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

func (cmd *NoticesCmd) run(ctx context.Context, c *cli.Command) error {
	notices := cmd.flags.App.Notices
	out := c.Root().Writer

	if cmd.clear {
		if err := notices.Clear(ctx); err != nil {
			return fmt.Errorf("clear notices: %w", err)
		}
		_, _ = fmt.Fprintln(out, "cleared")
		return nil
	}

	history, err := notices.History(ctx)
	if err != nil {
		return fmt.Errorf("load notices: %w", err)
	}

	if cmd.jsonOutput {
		for _, n := range history {
			if err := iojson.WriteLine(out, n); err != nil {
				return fmt.Errorf("encode notice: %w", err)
			}
		}
		return nil
	}

	if len(history) == 0 {
		fmt.Fprintf(os.Stderr, "No notices\n")
		return nil
	}
	return writeNotices(out, history)
}
