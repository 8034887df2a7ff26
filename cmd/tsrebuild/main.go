// Package main provides the tsrebuild CLI entrypoint.
//
// Usage:
//
//	tsrebuild <command> [options]
//
// Exit codes for `run`:
//   - 0: success, including runs where individual files failed
//   - 1: no input files, output failure
//   - 2: invalid config or usage
//   - 130: interrupted
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/cli/cmd"
	"github.com/pithecene-io/tsrebuild/pipeline"
	"github.com/pithecene-io/tsrebuild/types"
)

// Commit is set via ldflags at build time.
var commit = "unknown"

func main() {
	app := &cli.App{
		Name:           "tsrebuild",
		Usage:          "Rebuild TS recordings from time-sliced ES files in object storage",
		Version:        fmt.Sprintf("%s (commit: %s)", types.Version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			cmd.RunCommand(),
			cmd.ManifestCommand(),
			cmd.InspectCommand(),
			cmd.StateCommand(),
			cmd.HistoryCommand(),
			cmd.VersionCommand(commit),
		},
	}

	if err := app.Run(os.Args); err != nil {
		// ExitErrHandler already handled the exit for cli.ExitCoder errors.
		os.Exit(pipeline.ExitUsage)
	}
}

// exitErrHandler exits with the code carried by err, printing its message.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	os.Exit(report(os.Stderr, err))
}

// report writes the message for err to w and returns the exit code.
// cli.Exit codes are preserved. Any other error comes from flag parsing or
// argument validation and maps to the usage code.
func report(w io.Writer, err error) int {
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()

		// cli.Exit("", N).Error() returns "exit status N", so skip those
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(w, msg)
		}
		return code
	}

	fmt.Fprintf(w, "Error: %v\n", err)
	return pipeline.ExitUsage
}
