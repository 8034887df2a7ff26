package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/cli/render"
	"github.com/pithecene-io/tsrebuild/manifest"
	"github.com/pithecene-io/tsrebuild/naming"
	"github.com/pithecene-io/tsrebuild/pipeline"
	"github.com/pithecene-io/tsrebuild/types"
)

// ManifestResponse is the response for the manifest command.
type ManifestResponse struct {
	Window        types.TimeWindow `json:"window" yaml:"window"`
	RemotePrefix  string           `json:"remote_prefix" yaml:"remote_prefix"`
	CoverageStart int64            `json:"coverage_start" yaml:"coverage_start"`
	CoverageEnd   int64            `json:"coverage_end" yaml:"coverage_end"`
	Entries       []manifest.Entry `json:"entries" yaml:"entries"`
}

// manifestRow is the table form of one entry.
type manifestRow struct {
	RelPath  string `json:"rel_path"`
	Start    string `json:"start"`
	Duration int64  `json:"duration"`
	Remote   string `json:"remote"`
}

// ManifestCommand returns the manifest command.
// It lists the objects a run would fetch without contacting the object store.
func ManifestCommand() *cli.Command {
	return &cli.Command{
		Name:  "manifest",
		Usage: "List the interval files expected for the configured window",
		Flags: append([]cli.Flag{
			ConfigFlag,
			EnvFileFlag,
			&cli.StringFlag{
				Name:  "temp-dir",
				Usage: "Local root used for the local paths",
				Value: ".",
			},
		}, ReadOnlyFlags()...),
		Action: manifestAction,
	}
}

func manifestAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "manifest"); err != nil {
		return err
	}

	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	m, err := manifest.Build(cfg.Window(), cfg.FullPrefix(), c.String("temp-dir"))
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitUsage)
	}

	if r.Format() == render.FormatTable {
		entries := m.Entries()
		rows := make([]manifestRow, len(entries))
		for i, e := range entries {
			rows[i] = manifestRow{
				RelPath:  e.RelPath,
				Start:    time.Unix(e.Start, 0).UTC().Format(time.RFC3339),
				Duration: e.Duration,
				Remote:   e.Remote,
			}
		}
		return r.Render(rows)
	}

	start, end := m.Coverage()
	return r.Render(ManifestResponse{
		Window:        m.Window(),
		RemotePrefix:  cfg.FullPrefix(),
		CoverageStart: start,
		CoverageEnd:   end,
		Entries:       m.Entries(),
	})
}

// describeInterval renders the interval encoded in a file name.
func describeInterval(name string) string {
	start, end, err := naming.ParseName(name)
	if err != nil {
		return ""
	}
	return naming.FormatUTC(start) + " - " + naming.FormatUTC(end)
}
