package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/notify"
	"github.com/colonyops/inbox/pkg/iojson"
)

type WatchCmd struct {
	flags *Flags

	// flags
	list bool
}

// watchLine is one line of watch output. Exactly one field is set.
type watchLine struct {
	Summary  *summary               `json:"summary,omitempty"`
	Snapshot *notification.Snapshot `json:"snapshot,omitempty"`
	Notice   *watchNotice           `json:"notice,omitempty"`
}

type watchNotice struct {
	Level   notify.Level `json:"level"`
	Message string       `json:"message"`
	At      time.Time    `json:"at"`
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Follow the inbox live",
		UsageText: "inbox watch [--list]",
		Description: `Signs in, subscribes to push updates and polls in the background. Every
change to the inbox and every notice is printed as a JSON line until the
process is interrupted.

With --list the full notification list is kept fresh and printed with each
change; otherwise only the counter summary is printed.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "list",
				Usage:       "keep the notification list open",
				Destination: &cmd.list,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := cmd.flags.App
	out := c.Root().Writer

	// Both subscribers run on the bus loop, so writes never interleave.
	app.Bus.SubscribeInboxChanged(func(p eventbus.InboxChangedPayload) {
		line := watchLine{}
		if cmd.list {
			snap := p.Snapshot
			line.Snapshot = &snap
		} else {
			s := summarize(p.Snapshot)
			line.Summary = &s
		}
		if err := iojson.WriteLine(out, line); err != nil {
			log.Error().Err(err).Msg("write snapshot")
		}
	})
	app.Notices.Subscribe(func(n notify.Notice) {
		line := watchLine{Notice: &watchNotice{Level: n.Level, Message: n.Message, At: n.CreatedAt}}
		if err := iojson.WriteLine(out, line); err != nil {
			log.Error().Err(err).Msg("write notice")
		}
	})

	app.Reconciler.SetListOpen(cmd.list)
	if err := signIn(ctx, cmd.flags); err != nil {
		return err
	}

	<-ctx.Done()
	app.Gate.Logout()
	return nil
}
