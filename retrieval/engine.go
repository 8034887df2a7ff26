// Package retrieval makes every manifest entry available on local disk.
//
// Entries already present locally are used as is. The rest are fetched from
// the object store by a bounded worker pool with per-task retries. The
// engine returns the usable local files in chronological order and persists
// a progress snapshot once every task has reached a terminal outcome.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/tsrebuild/iox"
	"github.com/pithecene-io/tsrebuild/log"
	"github.com/pithecene-io/tsrebuild/manifest"
	"github.com/pithecene-io/tsrebuild/metrics"
	"github.com/pithecene-io/tsrebuild/naming"
	"github.com/pithecene-io/tsrebuild/progress"
	"github.com/pithecene-io/tsrebuild/remote"
	"github.com/pithecene-io/tsrebuild/types"
)

// Defaults applied to zero Config fields.
const (
	DefaultWorkers    = 10
	DefaultAttempts   = 3
	DefaultRetryDelay = 5 * time.Second
)

// partSuffix marks a download in progress. A file is only renamed to its
// final path once fully written.
const partSuffix = ".part"

// ErrNoFiles indicates that no manifest entry ended up usable.
var ErrNoFiles = errors.New("no usable input files")

// Result is the terminal outcome of one manifest entry.
type Result struct {
	Entry    manifest.Entry
	Outcome  types.FetchOutcome
	Attempts int
	Bytes    int64
	Err      error
}

// Config configures an Engine.
type Config struct {
	// Store serves remote objects (required).
	Store remote.ObjectStore
	// Fs is the local filesystem. Defaults to the OS filesystem.
	Fs afero.Fs
	// Workers bounds concurrent fetch tasks.
	Workers int
	// Attempts is the maximum number of tries per entry.
	Attempts int
	// RetryDelay is the pause between tries of one entry.
	RetryDelay time.Duration
	// Progress and StatePath enable snapshot persistence. Both optional.
	Progress  *progress.Store
	StatePath string
	// Collector receives the run counters. A private one is used when nil.
	Collector *metrics.Collector
	// Logger is optional.
	Logger *log.Logger
	// OnOutcome is called once per entry with its terminal outcome.
	// Called from worker goroutines; must be safe for concurrent use.
	OnOutcome func(Result)
}

// Engine drives the retrieval phase of one run. Not reusable across runs.
type Engine struct {
	cfg    Config
	fs     afero.Fs
	logger *log.Logger

	mu        sync.Mutex
	available []string
	seeded    map[string]struct{} // by naming.KeyOf
	results   []Result
	base      types.ProgressSnapshot
	files     []string
}

// New creates an engine, applying defaults to zero fields.
func New(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errors.New("retrieval: object store is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = DefaultAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.NewCollector("", "")
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Engine{
		cfg:    cfg,
		fs:     fsys,
		logger: cfg.Logger.With("retrieval"),
		seeded: make(map[string]struct{}),
	}, nil
}

// Resume seeds the engine from a prior snapshot. Files listed in the
// snapshot that no longer exist on disk are dropped unless the snapshot
// also lists them as already parsed. The surviving files
// are returned and are neither re-resolved nor re-fetched by Run.
//
// Files are matched by interval key, not by path, so a snapshot taken
// under another local root still marks its parsed intervals as done.
//
// The whole snapshot is kept as the base for the snapshot persisted after
// FetchAll, so parse-phase progress from the prior run survives.
func (e *Engine) Resume(snap types.ProgressSnapshot) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.base = snap
	if !snap.HasRetrieval() {
		return nil
	}

	processed := make(map[string]struct{}, len(snap.ProcessedFiles))
	for _, path := range snap.ProcessedFiles {
		processed[naming.KeyOf(path)] = struct{}{}
	}

	kept := make([]string, 0, len(snap.DownloadedFiles))
	for _, path := range snap.DownloadedFiles {
		key := naming.KeyOf(path)
		if _, dup := e.seeded[key]; dup {
			continue
		}
		// Parsed files may have been cleaned up or left behind in an old
		// local root; they are never fetched again.
		if _, done := processed[key]; done {
			e.seeded[key] = struct{}{}
			kept = append(kept, path)
			continue
		}
		if ok, err := afero.Exists(e.fs, path); err != nil || !ok {
			e.logger.Warn("resume: dropping missing file", map[string]any{"path": path})
			continue
		}
		e.seeded[key] = struct{}{}
		kept = append(kept, path)
	}
	e.available = append(e.available, kept...)

	found := min(snap.FilesFoundLocally, int64(len(kept)))
	e.cfg.Collector.SeedRetrieval(found, int64(len(kept))-found)

	e.logger.Info("resumed retrieval state", map[string]any{
		"prior_files": len(snap.DownloadedFiles),
		"kept_files":  len(kept),
	})
	return kept
}

// ResolveLocally splits the manifest into entries whose local file already
// exists and entries that must be fetched. Entries seeded by Resume are in
// neither list. Existing entries are recorded as found locally.
func (e *Engine) ResolveLocally(m *manifest.Manifest) (existing, remaining []manifest.Entry) {
	for _, entry := range m.Entries() {
		e.mu.Lock()
		_, seeded := e.seeded[naming.KeyOf(entry.RelPath)]
		e.mu.Unlock()
		if seeded {
			continue
		}

		if ok, err := afero.Exists(e.fs, entry.Local); err == nil && ok {
			existing = append(existing, entry)
			e.record(Result{Entry: entry, Outcome: types.FetchFoundLocally})
			continue
		}
		remaining = append(remaining, entry)
	}
	return existing, remaining
}

// FetchAll fetches entries with at most Workers concurrent tasks and waits
// for every task to finish. It returns every usable local file (seeded,
// found locally and downloaded) sorted by interval start.
//
// Canceling ctx stops tasks that have not started and aborts retry waits.
// The sorted list and ctx.Err() are returned in that case. ErrNoFiles is
// returned when the list is empty.
func (e *Engine) FetchAll(ctx context.Context, entries []manifest.Entry) ([]string, error) {
	var g errgroup.Group
	g.SetLimit(e.cfg.Workers)

	for _, entry := range entries {
		g.Go(func() error {
			e.record(e.fetchOne(ctx, entry))
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	files := sortByStart(e.available, e.logger)
	e.files = files
	e.mu.Unlock()

	e.persist(files)
	e.logSummary(len(files))

	if err := ctx.Err(); err != nil {
		return files, err
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	return files, nil
}

// Run resolves m against local disk and fetches what is missing.
func (e *Engine) Run(ctx context.Context, m *manifest.Manifest) ([]string, error) {
	existing, remaining := e.ResolveLocally(m)
	e.logger.Info("resolved manifest", map[string]any{
		"entries":       m.Len(),
		"found_locally": len(existing),
		"to_fetch":      len(remaining),
	})
	return e.FetchAll(ctx, remaining)
}

// Results returns the outcome of every entry recorded so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.results))
	copy(out, e.results)
	return out
}

// Snapshot returns the progress snapshot as persisted after FetchAll: the
// resume base with the retrieval fields replaced.
func (e *Engine) Snapshot() types.ProgressSnapshot {
	e.mu.Lock()
	files := e.files
	e.mu.Unlock()
	return e.snapshot(files)
}

func (e *Engine) snapshot(files []string) types.ProgressSnapshot {
	e.mu.Lock()
	snap := e.base
	e.mu.Unlock()

	counters := e.cfg.Collector.Snapshot()
	snap.DownloadedFiles = append([]string(nil), files...)
	snap.FilesFoundLocally = counters.FilesFoundLocally
	snap.FilesDownloaded = counters.FilesDownloaded
	snap.FilesFailed = counters.FilesFailed()
	return snap
}

func (e *Engine) persist(files []string) {
	if e.cfg.Progress == nil || e.cfg.StatePath == "" {
		return
	}
	if err := e.cfg.Progress.Save(e.cfg.StatePath, e.snapshot(files)); err != nil {
		e.logger.Warn("failed to save progress snapshot", map[string]any{
			"path":  e.cfg.StatePath,
			"error": err.Error(),
		})
		return
	}
	e.logger.Debug("saved progress snapshot", map[string]any{"path": e.cfg.StatePath, "files": len(files)})
}

func (e *Engine) record(r Result) {
	e.mu.Lock()
	e.results = append(e.results, r)
	if r.Outcome.Usable() {
		e.available = append(e.available, r.Entry.Local)
	}
	e.mu.Unlock()

	c := e.cfg.Collector
	switch r.Outcome {
	case types.FetchFoundLocally:
		c.IncFoundLocally()
	case types.FetchDownloaded:
		c.IncDownloaded(r.Bytes)
	case types.FetchFailedPermanent:
		c.IncFailedPermanent()
	case types.FetchFailedAfterRetries:
		c.IncFailedAfterRetries()
	case types.FetchCanceled:
		c.IncCanceled()
	}

	if e.cfg.OnOutcome != nil {
		e.cfg.OnOutcome(r)
	}
}

func (e *Engine) fetchOne(ctx context.Context, entry manifest.Entry) Result {
	r := Result{Entry: entry}
	if err := ctx.Err(); err != nil {
		r.Outcome, r.Err = types.FetchCanceled, err
		return r
	}

	e.cfg.Collector.IncFetchAttempted()
	if err := e.fs.MkdirAll(filepath.Dir(entry.Local), 0o755); err != nil {
		e.logger.Warn("failed to create local directory", map[string]any{
			"path":  entry.Local,
			"error": err.Error(),
		})
	}

	for attempt := 1; attempt <= e.cfg.Attempts; attempt++ {
		r.Attempts = attempt
		n, err := e.download(ctx, entry)
		if err == nil {
			r.Outcome, r.Bytes, r.Err = types.FetchDownloaded, n, nil
			e.logger.Debug("downloaded", map[string]any{"remote": entry.Remote, "bytes": n, "attempt": attempt})
			return r
		}
		r.Err = err

		if ctx.Err() != nil {
			r.Outcome = types.FetchCanceled
			return r
		}
		if remote.IsPermanent(err) {
			r.Outcome = types.FetchFailedPermanent
			e.logger.Warn("object unavailable", map[string]any{
				"remote": entry.Remote,
				"error":  err.Error(),
			})
			return r
		}
		if attempt == e.cfg.Attempts {
			break
		}

		e.cfg.Collector.IncRetry()
		e.logger.Warn("fetch failed, retrying", map[string]any{
			"remote":  entry.Remote,
			"attempt": attempt,
			"delay":   e.cfg.RetryDelay.String(),
			"error":   err.Error(),
		})
		if !sleep(ctx, e.cfg.RetryDelay) {
			r.Outcome = types.FetchCanceled
			return r
		}
	}

	r.Outcome = types.FetchFailedAfterRetries
	e.logger.Error("fetch failed after retries", map[string]any{
		"remote":   entry.Remote,
		"attempts": r.Attempts,
		"error":    r.Err.Error(),
	})
	return r
}

// download streams one object into <local>.part and renames it into place.
func (e *Engine) download(ctx context.Context, entry manifest.Entry) (n int64, err error) {
	rc, err := e.cfg.Store.Fetch(ctx, entry.Remote)
	if err != nil {
		return 0, err
	}
	defer iox.DiscardClose(rc)

	part := entry.Local + partSuffix
	f, err := e.fs.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}

	n, err = io.Copy(f, rc)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", part, cerr)
	}
	if err != nil {
		_ = e.fs.Remove(part)
		return 0, err
	}

	if err := e.fs.Rename(part, entry.Local); err != nil {
		_ = e.fs.Remove(part)
		return 0, fmt.Errorf("commit %s: %w", entry.Local, err)
	}
	return n, nil
}

func (e *Engine) logSummary(usable int) {
	s := e.cfg.Collector.Snapshot()
	e.logger.Info("retrieval complete", map[string]any{
		"usable_files":         usable,
		"found_locally":        s.FilesFoundLocally,
		"attempted":            s.FetchesAttempted,
		"downloaded":           s.FilesDownloaded,
		"failed_permanent":     s.FilesFailedPermanent,
		"failed_after_retries": s.FilesFailedAfterRetries,
		"canceled":             s.FilesCanceled,
		"retries":              s.FetchRetries,
		"bytes_downloaded":     s.BytesDownloaded,
	})
}

// sleep waits d or until ctx is done. Reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
