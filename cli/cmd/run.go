package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/tsrebuild/adapter"
	redisadapter "github.com/pithecene-io/tsrebuild/adapter/redis"
	"github.com/pithecene-io/tsrebuild/adapter/webhook"
	"github.com/pithecene-io/tsrebuild/cli/config"
	"github.com/pithecene-io/tsrebuild/cli/tui"
	"github.com/pithecene-io/tsrebuild/demux"
	"github.com/pithecene-io/tsrebuild/ledger"
	"github.com/pithecene-io/tsrebuild/log"
	"github.com/pithecene-io/tsrebuild/naming"
	"github.com/pithecene-io/tsrebuild/pipeline"
	"github.com/pithecene-io/tsrebuild/remote"
	"github.com/pithecene-io/tsrebuild/retrieval"
	"github.com/pithecene-io/tsrebuild/types"
)

// RunCommand returns the run command.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:        "run",
		Usage:       "Rebuild a TS recording for the configured time window",
		Description: `Fetches every interval file covering [start_utc, end_utc) from the
object store, then extracts the transport stream packets into --output.

Exit codes:
  0   success (individual files may have failed)
  1   no input files or output failure
  2   invalid config or usage
  130 interrupted`,
		Flags: []cli.Flag{
			ConfigFlag,
			EnvFileFlag,
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Output TS file path",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "resume",
				Usage: "Resume from the progress snapshot next to --output",
			},
			&cli.BoolFlag{
				Name:  "cleanup",
				Usage: "Delete each interval file after it parses cleanly",
			},
			&cli.StringFlag{
				Name:  "temp-dir",
				Usage: "Directory for downloaded interval files (default: a fresh temp dir removed at exit)",
			},
			&cli.IntFlag{
				Name:  "buffer-size",
				Usage: "Output write buffer size in bytes",
				Value: demux.DefaultBufferSize,
			},
			&cli.IntFlag{
				Name:  "workers",
				Usage: "Concurrent downloads",
				Value: retrieval.DefaultWorkers,
			},
			&cli.IntFlag{
				Name:  "attempts",
				Usage: "Download attempts per file for transient errors",
				Value: retrieval.DefaultAttempts,
			},
			&cli.DurationFlag{
				Name:  "retry-delay",
				Usage: "Delay between download attempts",
				Value: retrieval.DefaultRetryDelay,
			},
			&cli.IntFlag{
				Name:  "checkpoint-every",
				Usage: "Files handled between progress checkpoints",
				Value: demux.DefaultCheckpointEvery,
			},
			&cli.Int64Flag{
				Name:  "max-payload-size",
				Usage: "Treat records declaring a longer payload as corrupt (0 = no limit)",
			},
			&cli.StringFlag{
				Name:  "run-id",
				Usage: "Run identifier (default: random UUID)",
			},
			&cli.BoolFlag{
				Name:  "checksum",
				Usage: "Compute a BLAKE3 digest of the finished output",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Write a JSON run report to this path (\"-\" for stderr)",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "Show an interactive progress view on stderr",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress the result summary",
			},
		},
		Action: runAction,
	}
}

func runAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	runID := c.String("run-id")
	if runID == "" {
		runID = uuid.NewString()
	}
	meta := &types.RunMeta{RunID: runID, Window: cfg.Window(), Resumed: c.Bool("resume")}
	logger := log.NewLogger(meta, log.Options{Debug: c.Bool("debug"), Output: c.App.ErrWriter})
	defer logger.Sync()
	naming.SetLogger(logger.With("naming"))
	defer naming.SetLogger(nil)

	if cfg.S3Config().HasStaticCredentials() {
		logger.Warn("static AWS credentials loaded from config; prefer the default credential chain", nil)
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Warn("signal received, stopping", map[string]any{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	localRoot, cleanupRoot, err := resolveLocalRoot(c.String("temp-dir"))
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitFailure)
	}
	defer cleanupRoot()

	store, err := remote.Open(ctx, cfg.StoreOptions())
	if err != nil {
		return cli.Exit(fmt.Sprintf("cannot open object store: %v", err), pipeline.ExitUsage)
	}

	var led *ledger.Ledger
	if opts, ok := cfg.LedgerOptions(); ok {
		led, err = ledger.Open(ctx, opts)
		if err != nil {
			logger.Warn("run ledger unavailable, continuing without it", map[string]any{"error": err.Error()})
			led = nil
		}
	}

	notifier, err := buildAdapter(cfg.Adapter)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid adapter config: %v", err), pipeline.ExitUsage)
	}
	if notifier != nil {
		defer func() { _ = notifier.Close() }()
	}

	pcfg := pipeline.Config{
		RunID:           runID,
		Window:          cfg.Window(),
		RemotePrefix:    cfg.FullPrefix(),
		LocalRoot:       localRoot,
		Output:          c.String("output"),
		Resume:          c.Bool("resume"),
		Cleanup:         c.Bool("cleanup"),
		Checksum:        c.Bool("checksum"),
		Workers:         resolveInt(c, "workers", cfg.Download.Workers),
		Attempts:        resolveInt(c, "attempts", cfg.Download.Attempts),
		RetryDelay:      resolveDuration(c, "retry-delay", cfg.Download.RetryDelay.Duration),
		BufferSize:      resolveInt(c, "buffer-size", cfg.Output.BufferSize),
		CheckpointEvery: resolveInt(c, "checkpoint-every", cfg.Output.CheckpointEvery),
		MaxPayloadSize:  resolveInt64(c, "max-payload-size", cfg.Output.MaxPayloadSize),
		Store:           store,
		StorageBackend:  storeBackend(cfg),
		Ledger:          led,
		Logger:          logger,
	}
	if notifier != nil {
		pcfg.Adapter = notifier
	}

	var reporter *tui.Reporter
	if c.Bool("progress") {
		reporter = tui.NewReporter("Rebuilding "+filepath.Base(pcfg.Output), os.Stdin, c.App.ErrWriter, cancel)
		attachReporter(&pcfg, reporter)
		reporter.Start()
	}

	result, err := pipeline.Run(ctx, pcfg)
	if err != nil {
		return cli.Exit(err.Error(), pipeline.ExitUsage)
	}
	if reporter != nil {
		reporter.Finish(result.Outcome)
	}

	if path := c.String("report"); path != "" {
		if err := pipeline.WriteRunReport(pipeline.BuildRunReport(result), path); err != nil {
			logger.Error("failed to write run report", map[string]any{"path": path, "error": err.Error()})
		}
	}

	if !c.Bool("quiet") {
		printRunResult(c.App.Writer, result)
	}

	return cli.Exit("", result.ExitCode())
}

// resolveLocalRoot returns dir, or a fresh temp dir that the returned func removes.
func resolveLocalRoot(dir string) (string, func(), error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, fmt.Errorf("cannot create temp dir %s: %w", dir, err)
		}
		return dir, func() {}, nil
	}
	tmp, err := os.MkdirTemp("", "tsrebuild-*")
	if err != nil {
		return "", nil, fmt.Errorf("cannot create temp dir: %w", err)
	}
	return tmp, func() { _ = os.RemoveAll(tmp) }, nil
}

func storeBackend(cfg *config.Config) string {
	if cfg.Store.Backend == "" {
		return remote.BackendS3
	}
	return cfg.Store.Backend
}

// buildAdapter returns the configured notifier, or nil when none is configured.
func buildAdapter(ac config.AdapterConfig) (adapter.Adapter, error) {
	switch ac.Type {
	case "":
		return nil, nil
	case "webhook":
		retries := webhook.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return webhook.New(webhook.Config{
			URL:     ac.URL,
			Headers: ac.Headers,
			Secret:  ac.Secret,
			Timeout: ac.Timeout.Duration,
			Retries: retries,
		})
	case "redis":
		retries := redisadapter.DefaultRetries
		if ac.Retries != nil {
			retries = *ac.Retries
		}
		return redisadapter.New(redisadapter.Config{
			URL:          ac.URL,
			Channel:      ac.Channel,
			Stream:       ac.Stream,
			StreamMaxLen: ac.StreamMaxLen,
			StatusKey:    ac.StatusKey,
			StatusTTL:    ac.StatusTTL.Duration,
			Timeout:      ac.Timeout.Duration,
			Retries:      retries,
		})
	default:
		return nil, fmt.Errorf("unknown adapter type %q", ac.Type)
	}
}

func attachReporter(pcfg *pipeline.Config, r *tui.Reporter) {
	pcfg.OnPhase = func(phase pipeline.Phase, total int) {
		r.Phase(string(phase), total)
	}
	pcfg.OnFetch = func(res retrieval.Result) {
		r.Fetch(res.Outcome, res.Bytes)
	}
	pcfg.OnFile = func(res demux.FileResult) {
		r.File(res.Outcome, res.Packets)
	}
}

// resolveInt returns the flag value when set on the command line, else the
// config value when non-zero, else the flag default.
func resolveInt(c *cli.Context, name string, configured int) int {
	if c.IsSet(name) || configured == 0 {
		return c.Int(name)
	}
	return configured
}

// resolveInt64 is resolveInt for int64 flags.
func resolveInt64(c *cli.Context, name string, configured int64) int64 {
	if c.IsSet(name) || configured == 0 {
		return c.Int64(name)
	}
	return configured
}

// resolveDuration is resolveInt for durations.
func resolveDuration(c *cli.Context, name string, configured time.Duration) time.Duration {
	if c.IsSet(name) || configured == 0 {
		return c.Duration(name)
	}
	return configured
}

func printRunResult(w io.Writer, result *pipeline.Result) {
	m := result.Metrics
	fmt.Fprintf(w, "\nrun_id=%s, outcome=%s, duration=%s\n",
		result.RunMeta.RunID,
		result.Outcome.Status,
		result.Duration.Round(time.Millisecond),
	)

	fmt.Fprintf(w, "\n=== Run Result ===\n")
	fmt.Fprintf(w, "Run ID:       %s\n", result.RunMeta.RunID)
	fmt.Fprintf(w, "Window:       [%d, %d)\n", result.RunMeta.Window.Start, result.RunMeta.Window.End)
	fmt.Fprintf(w, "Resumed:      %t\n", result.RunMeta.Resumed)
	fmt.Fprintf(w, "Outcome:      %s\n", result.Outcome.Status)
	fmt.Fprintf(w, "Message:      %s\n", result.Outcome.Message)
	fmt.Fprintf(w, "Output:       %s\n", result.Output)

	fmt.Fprintf(w, "\n=== Manifest ===\n")
	fmt.Fprintf(w, "Entries:      %d\n", result.ManifestEntries)
	fmt.Fprintf(w, "Coverage:     [%d, %d)\n", result.CoverageStart, result.CoverageEnd)

	fmt.Fprintf(w, "\n=== Retrieval ===\n")
	fmt.Fprintf(w, "Found Locally:    %d\n", m.FilesFoundLocally)
	fmt.Fprintf(w, "Downloaded:       %d\n", m.FilesDownloaded)
	fmt.Fprintf(w, "Failed:           %d\n", m.FilesFailed())
	fmt.Fprintf(w, "Retries:          %d\n", m.FetchRetries)
	fmt.Fprintf(w, "Bytes Downloaded: %d\n", m.BytesDownloaded)

	fmt.Fprintf(w, "\n=== Parse ===\n")
	fmt.Fprintf(w, "Files Processed:  %d\n", result.Parse.FilesProcessed)
	fmt.Fprintf(w, "Parse Failed:     %d\n", result.Parse.FilesParseFailed)
	fmt.Fprintf(w, "Skipped:          %d\n", result.Parse.FilesSkipped)
	fmt.Fprintf(w, "Packets:          %d\n", result.Parse.PacketsProcessed)
	fmt.Fprintf(w, "Bytes In:         %d\n", result.Parse.BytesProcessedIn)
	fmt.Fprintf(w, "Bytes Written:    %d\n", result.Parse.OutputBytesWritten)
	fmt.Fprintf(w, "Output Size:      %d\n", result.Parse.OutputSize)

	if result.Checksum != "" {
		fmt.Fprintf(w, "\n=== Checksum ===\n")
		fmt.Fprintf(w, "%s:       %s\n", pipeline.ChecksumAlgo, result.Checksum)
	}
}
