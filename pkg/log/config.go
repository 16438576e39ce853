package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

type Config struct {
	// Level is the minimum record level to log. Either 'debug', 'info', 'warn'
	// or 'error'.
	Level string `json:"level" yaml:"level"`

	// Format is the log output format. Either 'json' or 'console'.
	Format string `json:"format" yaml:"format"`

	// Subsystems enables debug logging on log records whose 'subsystem'
	// matches one of the given values (overrides `Level`).
	Subsystems []string `json:"subsystems" yaml:"subsystems"`
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "json",
	}
}

func (c *Config) Validate() error {
	if c.Level == "" {
		return fmt.Errorf("missing level")
	}
	if _, err := zapLevelFromString(c.Level); err != nil {
		return err
	}
	switch c.Format {
	case "json", "console":
	case "":
		return fmt.Errorf("missing format")
	default:
		return fmt.Errorf("unsupported format: %s", c.Format)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.Level,
		"log.level",
		c.Level,
		`
Minimum log level to output.

The available levels are 'debug', 'info', 'warn' and 'error'.`,
	)
	fs.StringVar(
		&c.Format,
		"log.format",
		c.Format,
		`
Log output format.

'json' outputs a JSON object per record, 'console' outputs human readable
records for local development.`,
	)
	fs.StringSliceVar(
		&c.Subsystems,
		"log.subsystems",
		c.Subsystems,
		`
Each log has a 'subsystem' field where the log occured.

'--log.subsystems' enables all log levels for those given subsystems,
including their child subsystems. This can be useful to debug a particular
subsystem without having to enable all debug logs.

Such as you can enable 'gossip' and 'gossip.transport' logs with
'--log.subsystems gossip'.`,
	)
}
