// Package pipeline drives one rebuild run: manifest, retrieval, demux.
//
// The driver owns the run-level decisions the stages leave open: whether a
// previous snapshot is honored, when an already-complete output short-circuits
// the run, and how stage errors map to a run outcome. After the stages it
// computes the optional output checksum, appends the run to the ledger and
// publishes the completion event. Ledger and notification failures are
// logged and never change the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/pithecene-io/tsrebuild/adapter"
	"github.com/pithecene-io/tsrebuild/demux"
	"github.com/pithecene-io/tsrebuild/ledger"
	"github.com/pithecene-io/tsrebuild/log"
	"github.com/pithecene-io/tsrebuild/manifest"
	"github.com/pithecene-io/tsrebuild/metrics"
	"github.com/pithecene-io/tsrebuild/progress"
	"github.com/pithecene-io/tsrebuild/remote"
	"github.com/pithecene-io/tsrebuild/retrieval"
	"github.com/pithecene-io/tsrebuild/types"
)

// PublishTimeout bounds ledger and adapter calls made after the stages.
const PublishTimeout = 30 * time.Second

// Phase identifies a pipeline stage for progress observers.
type Phase string

const (
	PhaseRetrieval Phase = "retrieval"
	PhaseParse     Phase = "parse"
)

// Config configures a run.
type Config struct {
	// RunID identifies the run. A random UUID is used when empty.
	RunID string
	// Window is the UTC range to rebuild (required).
	Window types.TimeWindow
	// RemotePrefix is scheme://bucket/prefix of the interval files (required).
	RemotePrefix string
	// LocalRoot is where interval files are downloaded (required).
	LocalRoot string
	// Output is the output artifact path (required).
	Output string

	// Resume honors an existing progress snapshot for Output.
	Resume bool
	// Cleanup deletes each input file after it parses cleanly.
	Cleanup bool
	// Checksum computes a BLAKE3 digest of the finished output.
	Checksum bool

	Workers         int
	Attempts        int
	RetryDelay      time.Duration
	BufferSize      int
	CheckpointEvery int
	MaxPayloadSize  int64

	// Store serves remote objects (required).
	Store remote.ObjectStore
	// StorageBackend labels metrics ("s3", "fs", "stub").
	StorageBackend string
	// Fs is the local filesystem. Defaults to the OS filesystem.
	Fs afero.Fs

	// Ledger and Adapter are optional.
	Ledger  *ledger.Ledger
	Adapter adapter.Adapter

	Logger *log.Logger

	// Observers for progress rendering. All optional.
	OnPhase func(phase Phase, total int)
	OnFetch func(retrieval.Result)
	OnFile  func(demux.FileResult)

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (c *Config) validate() error {
	if c.Store == nil {
		return errors.New("pipeline: object store is required")
	}
	if c.Output == "" {
		return errors.New("pipeline: output path is required")
	}
	if c.LocalRoot == "" {
		return errors.New("pipeline: local root is required")
	}
	if c.RemotePrefix == "" {
		return errors.New("pipeline: remote prefix is required")
	}
	return c.Window.Validate()
}

// Result is the outcome of one run.
type Result struct {
	RunMeta types.RunMeta
	Outcome types.RunOutcome
	Output  string

	ManifestEntries int
	CoverageStart   int64
	CoverageEnd     int64
	Files           []string

	Parse   demux.Stats
	Metrics metrics.Snapshot

	Checksum string

	StartedAt   time.Time
	CompletedAt time.Time
	Duration    time.Duration
}

// ExitCode returns the process exit code for the run outcome.
func (r *Result) ExitCode() int {
	return ExitCodeFor(r.Outcome.Status)
}

// Run executes the pipeline. The returned error is non-nil only for an
// invalid Config; every other failure is reported through Result.Outcome.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	p := &runner{
		cfg:       cfg,
		logger:    cfg.Logger.With("pipeline"),
		store:     progress.NewStore(cfg.Fs),
		statePath: progress.Path(cfg.Output),
		collector: metrics.NewCollector(cfg.RunID, cfg.StorageBackend),
		result: &Result{
			RunMeta:   types.RunMeta{RunID: cfg.RunID, Window: cfg.Window},
			Output:    cfg.Output,
			StartedAt: cfg.Now(),
		},
	}

	p.execute(ctx)
	p.finish(ctx)
	return p.result, nil
}

type runner struct {
	cfg       Config
	logger    *log.Logger
	store     *progress.Store
	statePath string
	collector *metrics.Collector
	result    *Result
}

func (p *runner) execute(ctx context.Context) {
	cfg := p.cfg
	res := p.result

	m, err := manifest.Build(cfg.Window, cfg.RemotePrefix, cfg.LocalRoot)
	if err != nil {
		res.Outcome = outcome(types.OutcomeNoInput, err.Error())
		return
	}
	res.ManifestEntries = m.Len()
	res.CoverageStart, res.CoverageEnd = m.Coverage()
	p.logger.Info("manifest built", map[string]any{
		"entries":        m.Len(),
		"window_start":   cfg.Window.Start,
		"window_end":     cfg.Window.End,
		"coverage_start": res.CoverageStart,
		"coverage_end":   res.CoverageEnd,
		"remote_prefix":  cfg.RemotePrefix,
	})

	prior, resumed, done := p.loadPrior()
	if done {
		res.Outcome = outcome(types.OutcomeAlreadyComplete, "previous run already completed this output")
		return
	}
	res.RunMeta.Resumed = resumed

	engine, err := retrieval.New(retrieval.Config{
		Store:      cfg.Store,
		Fs:         cfg.Fs,
		Workers:    cfg.Workers,
		Attempts:   cfg.Attempts,
		RetryDelay: cfg.RetryDelay,
		Progress:   p.store,
		StatePath:  p.statePath,
		Collector:  p.collector,
		Logger:     cfg.Logger,
		OnOutcome:  cfg.OnFetch,
	})
	if err != nil {
		res.Outcome = outcome(types.OutcomeNoInput, err.Error())
		return
	}
	if resumed {
		engine.Resume(prior)
	}

	p.phase(PhaseRetrieval, m.Len())
	files, err := engine.Run(ctx, m)
	res.Files = files
	switch {
	case ctx.Err() != nil:
		res.Outcome = outcome(types.OutcomeInterrupted, "interrupted during retrieval")
		return
	case errors.Is(err, retrieval.ErrNoFiles):
		res.Outcome = outcome(types.OutcomeNoInput, "no files were available for parsing")
		return
	case err != nil:
		res.Outcome = outcome(types.OutcomeNoInput, err.Error())
		return
	}

	demuxer, err := demux.New(demux.Config{
		Output:          cfg.Output,
		Fs:              cfg.Fs,
		BufferSize:      cfg.BufferSize,
		CheckpointEvery: cfg.CheckpointEvery,
		MaxPayloadSize:  cfg.MaxPayloadSize,
		Cleanup:         cfg.Cleanup,
		Progress:        p.store,
		StatePath:       p.statePath,
		Base:            engine.Snapshot(),
		Collector:       p.collector,
		Logger:          cfg.Logger,
		OnFile:          cfg.OnFile,
	})
	if err != nil {
		res.Outcome = outcome(types.OutcomeOutputFailure, err.Error())
		return
	}
	if resumed && prior.HasParse() {
		demuxer.Resume(prior)
	}

	p.phase(PhaseParse, len(files))
	stats, err := demuxer.Run(ctx, files)
	res.Parse = stats
	switch {
	case errors.Is(err, demux.ErrOutput):
		res.Outcome = outcome(types.OutcomeOutputFailure, err.Error())
		return
	case err != nil:
		res.Outcome = outcome(types.OutcomeInterrupted, "interrupted during parsing")
		return
	}

	if cfg.Checksum {
		sum, err := checksumFile(cfg.Fs, cfg.Output)
		if err != nil {
			p.logger.Warn("could not checksum output", map[string]any{"error": err.Error()})
		} else {
			res.Checksum = sum
		}
	}

	res.Outcome = outcome(types.OutcomeSuccess, "run completed successfully")
}

// loadPrior reads the progress snapshot when resuming. done reports that the
// snapshot marks the output complete. A snapshot whose output has vanished
// keeps its retrieval state but loses its parse state, so the output is
// rebuilt from every available file. Without resume an existing snapshot is
// left to be overwritten.
func (p *runner) loadPrior() (snap types.ProgressSnapshot, resumed, done bool) {
	if !p.cfg.Resume {
		if p.store.Exists(p.statePath) {
			p.logger.Warn("progress snapshot exists, overwriting it (pass --resume to continue)", map[string]any{
				"path": p.statePath,
			})
		}
		return types.ProgressSnapshot{}, false, false
	}

	snap, status := p.store.Load(p.statePath)
	fields := map[string]any{"path": p.statePath, "status": status.String()}
	switch status {
	case progress.LoadOK:
	case progress.LoadMissing:
		p.logger.Info("no progress snapshot, starting fresh", fields)
		return types.ProgressSnapshot{}, false, false
	default:
		p.logger.Warn("unusable progress snapshot, starting fresh", fields)
		return types.ProgressSnapshot{}, false, false
	}

	fields["timestamp"] = snap.Timestamp
	fields["completed"] = snap.Completed
	p.logger.Info("found previous progress snapshot", fields)
	if snap.Completed {
		p.logger.Info("previous run was completed, nothing to do", map[string]any{"output": p.cfg.Output})
		return snap, true, true
	}

	if snap.HasParse() {
		if ok, _ := afero.Exists(p.cfg.Fs, p.cfg.Output); !ok {
			p.logger.Warn("output missing, discarding parse progress", map[string]any{"output": p.cfg.Output})
			snap = withoutParse(snap)
		}
	}
	return snap, true, false
}

func withoutParse(s types.ProgressSnapshot) types.ProgressSnapshot {
	return types.ProgressSnapshot{
		Version:           s.Version,
		DownloadedFiles:   s.DownloadedFiles,
		FilesFoundLocally: s.FilesFoundLocally,
		FilesDownloaded:   s.FilesDownloaded,
		FilesFailed:       s.FilesFailed,
		Timestamp:         s.Timestamp,
	}
}

func (p *runner) phase(ph Phase, total int) {
	if p.cfg.OnPhase != nil {
		p.cfg.OnPhase(ph, total)
	}
}

// finish stamps timing and metrics, then records and announces the run.
func (p *runner) finish(ctx context.Context) {
	res := p.result
	res.CompletedAt = p.cfg.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)

	// Runs after cancellation too; the notification describes the interruption.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()

	if p.cfg.Ledger != nil {
		if err := p.cfg.Ledger.Append(pubCtx, p.ledgerEntry()); err != nil {
			p.collector.IncLedgerWriteFailure()
			p.logger.Warn("failed to append run to ledger", map[string]any{"error": err.Error()})
		} else {
			p.collector.IncLedgerWriteSuccess()
		}
	}
	res.Metrics = p.collector.Snapshot()

	if p.cfg.Adapter != nil {
		if err := p.cfg.Adapter.Publish(pubCtx, p.event()); err != nil {
			p.logger.Warn("failed to publish run completion", map[string]any{"error": err.Error()})
		}
	}

	s := res.Metrics
	fields := map[string]any{
		"outcome":              string(res.Outcome.Status),
		"message":              res.Outcome.Message,
		"duration_ms":          res.Duration.Milliseconds(),
		"manifest_entries":     res.ManifestEntries,
		"files_found_locally":  s.FilesFoundLocally,
		"files_downloaded":     s.FilesDownloaded,
		"files_failed":         s.FilesFailed(),
		"files_processed":      s.FilesProcessed,
		"files_parse_failed":   s.FilesParseFailed,
		"packets_processed":    s.PacketsProcessed,
		"output_bytes_written": s.OutputBytesWritten,
		"output_size":          res.Parse.OutputSize,
	}
	if res.Checksum != "" {
		fields["checksum"] = fmt.Sprintf("%s:%s", ChecksumAlgo, res.Checksum)
	}
	if res.ExitCode() == ExitSuccess {
		p.logger.Info("run finished", fields)
	} else {
		p.logger.Error("run finished", fields)
	}
}

func (p *runner) ledgerEntry() ledger.Entry {
	res := p.result
	s := p.collector.Snapshot()
	e := ledger.Entry{
		RunID:              res.RunMeta.RunID,
		Status:             string(res.Outcome.Status),
		Message:            res.Outcome.Message,
		Output:             res.Output,
		Resumed:            res.RunMeta.Resumed,
		WindowStart:        res.RunMeta.Window.Start,
		WindowEnd:          res.RunMeta.Window.End,
		StartedAt:          res.StartedAt,
		CompletedAt:        res.CompletedAt,
		DurationMS:         res.Duration.Milliseconds(),
		ManifestEntries:    int64(res.ManifestEntries),
		FilesFoundLocally:  s.FilesFoundLocally,
		FilesDownloaded:    s.FilesDownloaded,
		FilesFailed:        s.FilesFailed(),
		FilesProcessed:     s.FilesProcessed,
		FilesParseFailed:   s.FilesParseFailed,
		FilesSkipped:       s.FilesSkipped,
		PacketsProcessed:   s.PacketsProcessed,
		BytesProcessedIn:   s.BytesProcessedIn,
		OutputBytesWritten: s.OutputBytesWritten,
		OutputSize:         res.Parse.OutputSize,
	}
	if res.Checksum != "" {
		e.Checksum = res.Checksum
		e.ChecksumAlgo = ChecksumAlgo
	}
	return e
}

func (p *runner) event() *adapter.RunCompletedEvent {
	res := p.result
	s := res.Metrics
	return &adapter.RunCompletedEvent{
		ContractVersion:    types.Version,
		EventType:          adapter.EventTypeRunCompleted,
		RunID:              res.RunMeta.RunID,
		Outcome:            string(res.Outcome.Status),
		Message:            res.Outcome.Message,
		Output:             res.Output,
		WindowStart:        res.RunMeta.Window.Start,
		WindowEnd:          res.RunMeta.Window.End,
		Resumed:            res.RunMeta.Resumed,
		Timestamp:          res.CompletedAt.UTC().Format(time.RFC3339),
		FilesDownloaded:    s.FilesDownloaded,
		FilesFailed:        s.FilesFailed(),
		FilesProcessed:     s.FilesProcessed,
		FilesParseFailed:   s.FilesParseFailed,
		PacketsProcessed:   s.PacketsProcessed,
		OutputBytesWritten: s.OutputBytesWritten,
		Checksum:           res.Checksum,
		DurationMs:         res.Duration.Milliseconds(),
	}
}
