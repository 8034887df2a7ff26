package cmd

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/cli/render"
	"github.com/pithecene-io/tsrebuild/cli/tui"
	"github.com/pithecene-io/tsrebuild/demux"
	"github.com/pithecene-io/tsrebuild/iox"
	"github.com/pithecene-io/tsrebuild/pipeline"
)

// InspectCommand returns the inspect command.
// Inspect decodes the record headers of one interval file, with capture
// and PCR deltas and their drift.
func InspectCommand() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Show the record headers of one interval file",
		ArgsUsage: "<file>",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum records to decode (0 for all)",
				Value: 100,
			},
		}, TUIReadOnlyFlags()...),
		Action: inspectAction,
	}
}

func inspectAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("file required", pipeline.ExitUsage)
	}
	path := c.Args().First()

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	view, err := inspectFile(path, c.Int("limit"))
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitFailure)
	}

	if c.Bool("tui") {
		if err := tui.Run(tui.ViewInspectFile, view); err != nil {
			return err
		}
	} else if r.Format() == render.FormatTable {
		if err := r.Render(view.Records); err != nil {
			return err
		}
	} else if err := r.Render(view); err != nil {
		return err
	}

	if view.Error != "" {
		return cli.Exit(fmt.Sprintf("%s: %s", path, view.Error), pipeline.ExitFailure)
	}
	return nil
}

// inspectFile decodes up to limit records from path. A decoding error is
// reported in the view next to the records read before it.
func inspectFile(path string, limit int) (*tui.FileView, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open %s: %w", path, err)
	}
	defer iox.DiscardClose(f)

	records, err := demux.Inspect(f, limit)
	view := &tui.FileView{
		Path:     path,
		Interval: describeInterval(path),
		Records:  records,
	}
	if records == nil {
		view.Records = []demux.RecordInfo{}
	}
	if err != nil {
		view.Error = err.Error()
	}
	for _, rec := range records {
		d := rec.DriftNanos
		if d < 0 {
			d = -d
		}
		view.MaxDriftNanos = max(view.MaxDriftNanos, d)
	}
	return view, nil
}
