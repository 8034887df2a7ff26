package cmd

import (
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/cli/render"
	"github.com/pithecene-io/tsrebuild/cli/tui"
	"github.com/pithecene-io/tsrebuild/pipeline"
	"github.com/pithecene-io/tsrebuild/progress"
)

// StateCommand returns the state command.
// It prints the progress snapshot stored next to an output file and exits
// non-zero when no usable snapshot exists.
func StateCommand() *cli.Command {
	return &cli.Command{
		Name:      "state",
		Usage:     "Show the progress snapshot of an output file",
		ArgsUsage: "<output>",
		Flags:     TUIReadOnlyFlags(),
		Action:    stateAction,
	}
}

func stateAction(c *cli.Context) error {
	if c.NArg() < 1 {
		return cli.Exit("output path required", pipeline.ExitUsage)
	}

	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}

	view := loadState(afero.NewOsFs(), c.Args().First())

	if c.Bool("tui") {
		err = tui.Run(tui.ViewState, view)
	} else {
		err = r.Render(view)
	}
	if err != nil {
		return err
	}

	if view.Snapshot == nil {
		return cli.Exit("", pipeline.ExitFailure)
	}
	return nil
}

func loadState(fsys afero.Fs, output string) *tui.StateView {
	path := progress.Path(output)
	snap, status := progress.NewStore(fsys).Load(path)
	view := &tui.StateView{
		Output:  output,
		Sidecar: path,
		Status:  status.String(),
	}
	if status == progress.LoadOK {
		view.Snapshot = &snap
	}
	return view
}
