package config

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/hay-kot/criterio"
)

// ValidateDeep performs comprehensive validation of the configuration
// including confirmation schedules and file accessibility. The configPath
// argument specifies the config file location to validate (empty string skips
// config file check). This calls Validate() first for basic structural
// validation, then adds I/O checks.
func (c *Config) ValidateDeep(configPath string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	return criterio.ValidateStruct(
		c.validateFileAccess(configPath),
		c.validateSchedules(),
		c.validateCredential(),
	)
}

// validateFileAccess checks config file and data directory.
func (c *Config) validateFileAccess(configPath string) error {
	return criterio.ValidateStruct(
		validateConfigFile(configPath),
		criterio.Run("data_dir", c.DataDir, isDirectoryOrNotExist),
	)
}

func validateConfigFile(configPath string) error {
	if configPath == "" {
		return nil
	}

	info, err := os.Stat(configPath)
	if os.IsNotExist(err) {
		return nil // not found is fine, using defaults
	}
	if err != nil {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("cannot access: %w", err))
	}
	if info.IsDir() {
		return criterio.NewFieldErrors("config_file", fmt.Errorf("%s is a directory, not a file", configPath))
	}
	return nil
}

// isDirectoryOrNotExist validates that a path is a directory or doesn't exist.
func isDirectoryOrNotExist(path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil // will be created
	}
	if err != nil {
		return fmt.Errorf("cannot access: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("exists but is not a directory")
	}
	return nil
}

// validateSchedules checks confirmation delays are positive and ascending.
func (c *Config) validateSchedules() error {
	var errs criterio.FieldErrorsBuilder

	schedules := []struct {
		field string
		delay []time.Duration
	}{
		{"poll.confirm.mark_all_read", c.Poll.Confirm.MarkAllRead},
		{"poll.confirm.mark_read", c.Poll.Confirm.MarkRead},
		{"poll.confirm.delete", c.Poll.Confirm.Delete},
		{"poll.confirm.push", c.Poll.Confirm.Push},
	}

	for _, s := range schedules {
		for i, d := range s.delay {
			if d <= 0 {
				errs = errs.Append(fmt.Sprintf("%s[%d]", s.field, i), fmt.Errorf("delay must be positive, got %s", d))
			}
		}
		if !slices.IsSorted(s.delay) {
			errs = errs.Append(s.field, fmt.Errorf("delays must be in ascending order"))
		}
	}

	return errs.ToError()
}

// validateCredential checks that a session identity can be derived.
func (c *Config) validateCredential() error {
	if _, err := c.Identity(); err != nil {
		return criterio.NewFieldErrors("server.token", err)
	}
	return nil
}
