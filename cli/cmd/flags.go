// Package cmd provides CLI commands for the tsrebuild binary.
package cmd

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/cli/config"
	"github.com/pithecene-io/tsrebuild/pipeline"
)

// Shared flags for read-only commands.
var (
	// FormatFlag selects output format: json, table, yaml.
	FormatFlag = &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: json, table, yaml",
	}

	// NoColorFlag disables colored output.
	NoColorFlag = &cli.BoolFlag{
		Name:  "no-color",
		Usage: "Disable colored output",
	}

	// TUIFlag enables Bubble Tea interactive mode.
	// Only valid for inspect and state.
	TUIFlag = &cli.BoolFlag{
		Name:  "tui",
		Usage: "Enable interactive TUI mode (inspect, state only)",
	}
)

// Flags shared by commands that read a config file.
var (
	ConfigFlag = &cli.StringFlag{
		Name:     "config",
		Aliases:  []string{"c"},
		Usage:    "Path to the YAML run configuration",
		Required: true,
	}

	EnvFileFlag = &cli.StringFlag{
		Name:  "env-file",
		Usage: "Load environment variables from a dotenv file before expanding the config",
	}
)

// ReadOnlyFlags returns the shared flags for all read-only commands.
// Includes --tui so that unsupported commands can provide explicit error messages
// instead of generic "flag not defined" errors.
func ReadOnlyFlags() []cli.Flag {
	return []cli.Flag{
		FormatFlag,
		NoColorFlag,
		TUIFlag,
	}
}

// TUIReadOnlyFlags returns flags for commands that support TUI mode.
// This is an alias for ReadOnlyFlags, kept for documentation clarity.
func TUIReadOnlyFlags() []cli.Flag {
	return ReadOnlyFlags()
}

// loadConfig applies --env-file, then loads and validates --config.
// Failures exit with the usage code.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if envFile := c.String("env-file"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, cli.Exit(fmt.Sprintf("cannot load env file %q: %v", envFile, err), pipeline.ExitUsage)
		}
	}

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, cli.Exit(err.Error(), pipeline.ExitUsage)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cli.Exit(fmt.Sprintf("invalid config: %v", err), pipeline.ExitUsage)
	}
	return cfg, nil
}

// rejectTUI returns a usage error when --tui is set on a command without a TUI view.
func rejectTUI(c *cli.Context, command string) error {
	if c.Bool("tui") {
		return cli.Exit(fmt.Sprintf("--tui is not supported for %s command", command), pipeline.ExitUsage)
	}
	return nil
}
