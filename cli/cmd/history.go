package cmd

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/cli/render"
	"github.com/pithecene-io/tsrebuild/ledger"
	"github.com/pithecene-io/tsrebuild/pipeline"
	"github.com/pithecene-io/tsrebuild/remote"
)

// historyRow is the table form of one ledger entry.
type historyRow struct {
	RunID       string `json:"run_id"`
	CompletedAt string `json:"completed_at"`
	Status      string `json:"status"`
	Window      string `json:"window"`
	Downloaded  int64  `json:"downloaded"`
	Failed      int64  `json:"failed"`
	Packets     int64  `json:"packets"`
	Output      string `json:"output"`
}

// HistoryCommand returns the history command.
// It reads run summaries from the ledger, newest first.
func HistoryCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Show recorded run summaries from the ledger",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:  "ledger-backend",
				Usage: "Ledger backend: fs or s3",
				Value: ledger.BackendFS,
			},
			&cli.StringFlag{
				Name:  "ledger-path",
				Usage: "Ledger directory (fs) or key prefix (s3)",
			},
			&cli.StringFlag{
				Name:  "ledger-bucket",
				Usage: "Ledger bucket (s3)",
			},
			&cli.StringFlag{
				Name:  "ledger-region",
				Usage: "Ledger bucket region (s3)",
			},
			&cli.StringFlag{
				Name:  "dataset",
				Usage: "Ledger dataset ID",
				Value: ledger.DefaultDataset,
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Only show this run",
			},
			&cli.StringFlag{
				Name:  "artifact",
				Usage: "Only show runs that wrote this output path",
			},
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only show runs with this outcome",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum runs to show (1 shows the latest run in detail)",
				Value: 1,
			},
		}, ReadOnlyFlags()...),
		Action: historyAction,
	}
}

func historyAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	if err := rejectTUI(c, "history"); err != nil {
		return err
	}

	led, err := ledger.Open(c.Context, ledger.Options{
		Dataset: c.String("dataset"),
		Backend: c.String("ledger-backend"),
		Path:    c.String("ledger-path"),
		Bucket:  c.String("ledger-bucket"),
		S3:      remote.S3Config{Region: c.String("ledger-region")},
	})
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitUsage)
	}

	filter := ledger.Filter{
		RunID:  c.String("run-id"),
		Output: c.String("artifact"),
		Status: c.String("status"),
	}
	limit := c.Int("limit")

	entries, err := led.History(c.Context, filter, limit)
	if errors.Is(err, ledger.ErrNoRecords) {
		return cli.Exit(err.Error(), pipeline.ExitFailure)
	}
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot read ledger: %v", err), pipeline.ExitFailure)
	}

	if limit == 1 {
		return r.Render(entries[0])
	}
	if r.Format() == render.FormatTable {
		return r.Render(historyRows(entries))
	}
	return r.Render(entries)
}

func historyRows(entries []ledger.Entry) []historyRow {
	rows := make([]historyRow, len(entries))
	for i, e := range entries {
		rows[i] = historyRow{
			RunID:       e.RunID,
			CompletedAt: e.CompletedAt.UTC().Format("2006-01-02 15:04:05"),
			Status:      e.Status,
			Window:      fmt.Sprintf("[%d,%d)", e.WindowStart, e.WindowEnd),
			Downloaded:  e.FilesDownloaded,
			Failed:      e.FilesFailed,
			Packets:     e.PacketsProcessed,
			Output:      e.Output,
		}
	}
	return rows
}
