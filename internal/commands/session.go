package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/colonyops/inbox/internal/inbox"
)

const settleTimeout = 5 * time.Second

// signIn logs the engine in as the configured identity.
func signIn(ctx context.Context, flags *Flags, opts ...inbox.LoginOption) error {
	id, err := flags.Config.Identity()
	if err != nil {
		return err
	}
	if err := flags.App.Gate.Login(ctx, id, opts...); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// oneShot signs in without push or the background refresh. Commands that
// run once fetch on their own so they can report errors.
func oneShot(ctx context.Context, flags *Flags) error {
	return signIn(ctx, flags, inbox.WithoutPush(), inbox.WithoutRefresh())
}

// settle waits for confirmation refreshes scheduled by a command. Giving
// up early is not an error; the server already has the command.
func settle(ctx context.Context, app *inbox.App) {
	ctx, cancel := context.WithTimeout(ctx, settleTimeout)
	defer cancel()

	if err := app.Poller.Settle(ctx); err != nil {
		log.Debug().Err(err).Int("pending", app.Poller.Pending()).Msg("confirmations still pending")
	}
}
