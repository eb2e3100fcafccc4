package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/internal/commands"
	"github.com/colonyops/inbox/internal/core/config"
	"github.com/colonyops/inbox/internal/core/eventbus"
	"github.com/colonyops/inbox/internal/core/logging"
	"github.com/colonyops/inbox/internal/core/notification"
	"github.com/colonyops/inbox/internal/core/session"
	"github.com/colonyops/inbox/internal/data/db"
	"github.com/colonyops/inbox/internal/data/stores"
	"github.com/colonyops/inbox/internal/inbox"
	"github.com/colonyops/inbox/internal/integration/notifyapi"
	"github.com/colonyops/inbox/internal/integration/push"
	"github.com/colonyops/inbox/pkg/iojson"
	"github.com/colonyops/inbox/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx := context.Background()

	var (
		logCloser     func()
		database      *db.DB
		watcherCancel context.CancelFunc
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "inbox",
		Usage:     "Follow and manage your notifications",
		UsageText: "inbox [global options] command [command options]",
		Description: `Inbox keeps a local copy of your notifications in step with the server.

It merges live push updates with periodic polling, applies read and delete
commands optimistically and re-checks them against the server shortly after.

Run 'inbox watch' to follow the inbox live.
Run 'inbox ls' to print the latest notifications.`,
		Version:               build(),
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("INBOX_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/inbox.log)",
				Sources:     cli.EnvVars("INBOX_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("INBOX_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("INBOX_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "session token (overrides server.token)",
				Sources:     cli.EnvVars("INBOX_TOKEN"),
				Destination: &flags.Token,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Always log to a file; use explicit path or default to <datadir>/inbox.log
			logFile := flags.LogFile
			if logFile == "" {
				logFile = filepath.Join(flags.DataDir, "inbox.log")
			}

			logger, closer, err := logutils.New(logutils.Options{Level: flags.LogLevel, File: logFile})
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			flags.ApplyOverrides(cfg)
			flags.Config = cfg

			database, err = openDatabase(cfg)
			if err != nil {
				return ctx, err
			}

			bus := eventbus.New(256)
			eventbus.RegisterDebugLogger(bus, logging.Component("eventbus"))

			holder := session.NewHolder()
			client, err := notifyapi.New(notifyapi.Options{
				BaseURL:     cfg.Server.BaseURL,
				Credentials: holder,
				Timeout:     cfg.Server.Timeout,
				Reads:       retryPolicy(cfg.Fetch.Reads, true),
				Commands:    retryPolicy(cfg.Fetch.Commands, false),
				Logger:      logging.Component("notifyapi"),
			})
			if err != nil {
				return ctx, fmt.Errorf("create api client: %w", err)
			}

			var transport notification.Transport
			if cfg.Push.IsEnabled() {
				transport = push.New(push.Options{
					URL:          cfg.StreamURL(),
					Credentials:  holder,
					ReconnectMax: cfg.Push.ReconnectMax,
					Logger:       logging.Component("push"),
				})
			}

			flags.App = inbox.NewApp(inbox.Deps{
				API:       client,
				Transport: transport,
				Holder:    holder,
				Bus:       bus,
				Notices:   stores.NewNoticeStore(database, stores.DefaultNoticeRetention),
				Poll:      inbox.PollerConfigFrom(cfg),
			})
			flags.App.Start(ctx)

			// Hot reload is best effort; commands still run without it.
			watcher, err := config.NewWatcher(flags.ConfigPath, flags.DataDir, logging.Component("config"), func(next *config.Config) {
				flags.ApplyOverrides(next)
				bus.PublishConfigReloaded(eventbus.ConfigReloadedPayload{Config: next})
			})
			if err != nil {
				log.Warn().Err(err).Msg("config watcher disabled")
			} else {
				watchCtx, cancel := context.WithCancel(context.Background())
				watcherCancel = cancel
				go watcher.Run(watchCtx)
			}

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			// Stop config watcher
			if watcherCancel != nil {
				watcherCancel()
			}

			// Stop producers and the event loops
			if flags.App != nil {
				flags.App.Close()
			}

			// Close database connection
			if database != nil {
				if err := database.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
					return err
				}
			}

			// Close log file
			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	app = commands.NewWatchCmd(flags).Register(app)
	app = commands.NewLsCmd(flags).Register(app)
	app = commands.NewUnreadCmd(flags).Register(app)
	app = commands.NewReadCmd(flags).Register(app)
	app = commands.NewRmCmd(flags).Register(app)
	app = commands.NewSendTestCmd(flags).Register(app)
	app = commands.NewNoticesCmd(flags).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	if runErr != nil {
		exitCode = 1
		if commands.WantsJSON(os.Args) {
			// config validate has already written its own result.
			if msg := runErr.Error(); msg != "" {
				_ = iojson.WriteError(msg, commands.ErrorData(runErr))
			}
		} else {
			fmt.Println()
			fmt.Println(runErr.Error())
		}
	}

	os.Exit(exitCode)
}

// openDatabase opens the notice database. A corrupt file is moved aside and
// a fresh one created, since notice history is disposable.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	opts := db.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}

	database, err := db.Open(cfg.DataDir, opts)
	if err == nil {
		return database, nil
	}
	if !stores.IsCorruptionError(err) {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backup, qErr := stores.QuarantineDatabase(cfg.DatabaseFile())
	if qErr != nil {
		return nil, errors.Join(fmt.Errorf("open database: %w", err), qErr)
	}
	log.Warn().Err(err).Str("backup", backup).Msg("database was corrupt, starting fresh")

	database, err = db.Open(cfg.DataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

func retryPolicy(rc config.RetryConfig, retryHTTP bool) notifyapi.RetryPolicy {
	return notifyapi.RetryPolicy{
		BaseDelay:   rc.BaseDelay,
		MaxDelay:    rc.MaxDelay,
		MaxAttempts: rc.MaxAttempts,
		RetryHTTP:   retryHTTP,
	}
}
