package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/inbox/pkg/iojson"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// validationResult is the JSON output of config validate.
type validationResult struct {
	Valid  bool     `json:"valid"`
	Error  string   `json:"error,omitempty"`
	Fields []string `json:"fields,omitempty"`
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:        "validate",
				Usage:       "Validate configuration file",
				UsageText:   "inbox config validate [options]",
				Description: "Validates the configuration file, checking confirmation schedules, the session token and file paths.",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	err := cmd.flags.Config.ValidateDeep(cmd.flags.ConfigPath)

	result := validationResult{Valid: err == nil}
	if err != nil {
		result.Error = err.Error()
		var fieldErrs criterio.FieldErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				result.Fields = append(result.Fields, fe.Field)
			}
		}
	}

	out := c.Root().Writer
	if cmd.format == "json" {
		if err := iojson.WriteWith(out, c.Root().ErrWriter, result); err != nil {
			return err
		}
	} else {
		if result.Valid {
			_, _ = fmt.Fprintln(out, "Configuration is valid")
		} else {
			_, _ = fmt.Fprintf(out, "Configuration is invalid:\n%s\n", result.Error)
		}
	}

	if !result.Valid {
		return cli.Exit("", 1)
	}
	return nil
}
