package demux

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/pithecene-io/tsrebuild/iox"
	"github.com/pithecene-io/tsrebuild/log"
	"github.com/pithecene-io/tsrebuild/metrics"
	"github.com/pithecene-io/tsrebuild/naming"
	"github.com/pithecene-io/tsrebuild/progress"
	"github.com/pithecene-io/tsrebuild/types"
)

// DefaultCheckpointEvery is the default number of handled files between
// progress checkpoints.
const DefaultCheckpointEvery = 10

const readBufferSize = 256 * 1024

// ErrOutput indicates the output artifact could not be opened or written.
// The run cannot continue after it.
var ErrOutput = errors.New("output artifact unavailable")

// FileResult is the outcome of one input file.
type FileResult struct {
	Path    string
	Index   int
	Total   int
	Outcome types.ParseOutcome
	Packets int64
	Bytes   int64
	Err     error
	// Corrupt reports that parsing stopped on a malformed record rather
	// than a read failure.
	Corrupt bool
}

// Stats summarizes a Run, including counters restored by Resume.
type Stats struct {
	FilesProcessed     int64 `json:"files_processed"`
	FilesParseFailed   int64 `json:"files_parse_failed"`
	FilesSkipped       int64 `json:"files_skipped"`
	PacketsProcessed   int64 `json:"packets_processed"`
	BytesProcessedIn   int64 `json:"bytes_processed_in"`
	OutputBytesWritten int64 `json:"output_bytes_written"`
	OutputSize         int64 `json:"output_size"`
	Appended           bool  `json:"appended"`
	Completed          bool  `json:"completed"`
}

// Config configures a Demuxer.
type Config struct {
	// Output is the output artifact path (required).
	Output string
	// Fs is the filesystem for input and output. Defaults to the OS filesystem.
	Fs afero.Fs
	// BufferSize is the write buffer capacity.
	BufferSize int
	// CheckpointEvery is the number of handled files between checkpoints.
	CheckpointEvery int
	// MaxPayloadSize marks records declaring a longer payload as corrupt.
	// Zero means no limit.
	MaxPayloadSize int64
	// Cleanup deletes each input file after it parses cleanly.
	Cleanup bool
	// Progress and StatePath enable checkpoints. Both optional.
	Progress  *progress.Store
	StatePath string
	// Base is the snapshot each checkpoint starts from. Its retrieval
	// fields are carried into every checkpoint unchanged.
	Base types.ProgressSnapshot
	// Collector receives the run counters. A private one is used when nil.
	Collector *metrics.Collector
	// Logger is optional.
	Logger *log.Logger
	// OnFile is called after each input file is handled.
	OnFile func(FileResult)
}

// committed is the parse state as of the last fully handled file.
// Checkpoints persist only committed state, so a file interrupted midway
// is parsed again from its start on resume.
type committed struct {
	counters    metrics.Snapshot
	outputBytes int64
}

// Demuxer writes the payloads of a chronological file list to one output.
// Not reusable across runs.
type Demuxer struct {
	cfg    Config
	fs     afero.Fs
	logger *log.Logger

	resumed       bool
	truncateTo    int64
	processed     map[string]struct{} // by naming.KeyOf
	processedList []string
	committed     committed
}

// New creates a demuxer, applying defaults to zero fields.
func New(cfg Config) (*Demuxer, error) {
	if cfg.Output == "" {
		return nil, errors.New("demux: output path is required")
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = DefaultCheckpointEvery
	}
	if cfg.Collector == nil {
		cfg.Collector = metrics.NewCollector("", "")
	}
	fsys := cfg.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Demuxer{
		cfg:        cfg,
		fs:         fsys,
		logger:     cfg.Logger.With("demux"),
		truncateTo: -1,
		processed:  make(map[string]struct{}),
	}, nil
}

// Resume restores parse progress from snap. It reports false, leaving the
// demuxer in fresh-output mode, when the output does not exist.
//
// The recorded output size is cross-checked against the file on disk. A
// larger file holds bytes from files that were not checkpointed as handled;
// it is truncated back to the recorded size before appending. A smaller file
// is appended to as is. Both cases are logged and neither is fatal.
func (d *Demuxer) Resume(snap types.ProgressSnapshot) bool {
	info, err := d.fs.Stat(d.cfg.Output)
	if err != nil {
		d.logger.Warn("cannot resume parsing: output not found, starting fresh", map[string]any{
			"output": d.cfg.Output,
		})
		return false
	}

	d.resumed = true
	for _, p := range snap.ProcessedFiles {
		key := naming.KeyOf(p)
		if _, dup := d.processed[key]; dup {
			continue
		}
		d.processed[key] = struct{}{}
		d.processedList = append(d.processedList, p)
	}
	d.cfg.Collector.SeedParse(metrics.ParseCounters{
		FilesProcessed:     snap.FilesProcessed,
		FilesParseFailed:   snap.FilesParseFailed,
		FilesSkipped:       snap.FilesSkipped,
		PacketsProcessed:   snap.PacketsProcessed,
		BytesProcessedIn:   snap.BytesProcessedIn,
		OutputBytesWritten: snap.OutputBytesWritten,
	})

	actual, recorded := info.Size(), snap.OutputBytesWritten
	fields := map[string]any{"output": d.cfg.Output, "expected": recorded, "actual": actual}
	switch {
	case actual > recorded:
		d.truncateTo = recorded
		d.logger.Warn("output size mismatch, truncating to checkpointed size", fields)
	case actual < recorded:
		d.logger.Warn("output size mismatch, output is shorter than checkpointed size", fields)
	default:
		d.logger.Debug("output size matches checkpoint", fields)
	}

	d.logger.Info("resumed parsing state", map[string]any{
		"files_done":   len(d.processedList),
		"files_parsed": snap.FilesProcessed,
		"packets":      snap.PacketsProcessed,
		"output_bytes": recorded,
	})
	return true
}

// Run parses files in order and appends their payloads to the output.
// Files recorded as handled by Resume are skipped. A file matches a handled
// one by interval key, so it is skipped even under another local root.
//
// Per-file failures are counted and never returned. The returned error is
// ErrOutput (wrapped) when the output cannot be opened or written, or
// ctx.Err() when the run was canceled. Cancellation takes effect between
// records; the buffer is flushed and a checkpoint saved before returning.
func (d *Demuxer) Run(ctx context.Context, files []string) (Stats, error) {
	if len(files) == 0 {
		d.logger.Warn("no files provided to the demuxer, nothing to do", nil)
		return d.stats(false, false, 0), nil
	}

	f, initial, appended, err := d.openOutput()
	if err != nil {
		return Stats{}, err
	}
	w := NewBufferedWriter(f, d.cfg.BufferSize, initial)
	d.commit(w)

	d.logger.Info("parsing started", map[string]any{
		"files":       len(files),
		"output":      d.cfg.Output,
		"append":      appended,
		"buffer_size": d.cfg.BufferSize,
	})

	var fatal error
	interrupted := false
	handled := 0

	for i, path := range files {
		if ctx.Err() != nil {
			interrupted = true
			break
		}
		if _, done := d.processed[naming.KeyOf(path)]; done {
			d.logger.Debug("skipping file handled by a previous run", map[string]any{"path": path})
			continue
		}

		res, err := d.parseFile(ctx, path, w)
		if err != nil {
			if errors.Is(err, ErrOutput) {
				fatal = err
			} else {
				interrupted = true
				d.logger.Info("parsing interrupted", map[string]any{"path": path})
			}
			break
		}
		res.Index, res.Total = i, len(files)
		d.finishFile(res, w)

		handled++
		if handled%d.cfg.CheckpointEvery == 0 {
			if err := d.checkpoint(w, false); err != nil {
				fatal = err
				break
			}
		}
	}

	if fatal == nil {
		fatal = d.checkpoint(w, !interrupted)
	} else {
		d.save(false)
	}
	_ = w.Close()
	if err := f.Close(); err != nil && fatal == nil {
		fatal = fmt.Errorf("%w: close %s: %w", ErrOutput, d.cfg.Output, err)
	}

	var size int64
	if info, err := d.fs.Stat(d.cfg.Output); err == nil {
		size = info.Size()
	} else {
		d.logger.Warn("could not stat output after parsing", map[string]any{"error": err.Error()})
	}

	stats := d.stats(fatal == nil && !interrupted, appended, size)
	d.logSummary(len(files), stats)

	switch {
	case fatal != nil:
		d.logger.Error("output write failed", map[string]any{"error": fatal.Error()})
		return stats, fatal
	case interrupted:
		return stats, ctx.Err()
	default:
		return stats, nil
	}
}

func (d *Demuxer) openOutput() (f afero.File, initial int64, appended bool, err error) {
	out := d.cfg.Output
	if dir := filepath.Dir(out); dir != "." {
		if err := d.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, 0, false, fmt.Errorf("%w: create %s: %w", ErrOutput, dir, err)
		}
	}

	exists, _ := afero.Exists(d.fs, out)
	if !d.resumed || !exists {
		f, err = d.fs.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, 0, false, fmt.Errorf("%w: create %s: %w", ErrOutput, out, err)
		}
		return f, 0, false, nil
	}

	f, err = d.fs.OpenFile(out, os.O_WRONLY, 0o644)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: open %s: %w", ErrOutput, out, err)
	}
	if d.truncateTo >= 0 {
		if err := f.Truncate(d.truncateTo); err != nil {
			iox.DiscardClose(f)
			return nil, 0, false, fmt.Errorf("%w: truncate %s: %w", ErrOutput, out, err)
		}
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		iox.DiscardClose(f)
		return nil, 0, false, fmt.Errorf("%w: seek %s: %w", ErrOutput, out, err)
	}
	d.logger.Info("appending to existing output", map[string]any{"output": out, "size": size})
	return f, size, true, nil
}

// parseFile extracts every record of one file. The returned error is either
// a wrapped ErrOutput or the context error; per-file problems are reported
// in the result.
func (d *Demuxer) parseFile(ctx context.Context, path string, w *BufferedWriter) (FileResult, error) {
	res := FileResult{Path: path}

	if ok, _ := afero.Exists(d.fs, path); !ok {
		res.Outcome = types.ParseSkipped
		d.logger.Warn("file listed for processing not found on disk", map[string]any{"path": path})
		return res, nil
	}

	in, err := d.fs.Open(path)
	if err != nil {
		res.Outcome, res.Err = types.ParseFailed, err
		d.logger.Warn("could not open input file", map[string]any{"path": path, "error": err.Error()})
		return res, nil
	}
	defer iox.DiscardClose(in)

	rr := NewRecordReader(bufio.NewReaderSize(in, readBufferSize))
	rr.MaxPayload = d.cfg.MaxPayloadSize
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		rec, err := rr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Outcome, res.Err = types.ParseFailed, err
			res.Corrupt = IsCorruption(err)
			msg := "read failed, keeping file for inspection"
			if res.Corrupt {
				msg = "corrupt record, keeping file for inspection"
			}
			d.logger.Warn(msg, map[string]any{
				"path":    path,
				"packets": res.Packets,
				"error":   err.Error(),
			})
			return res, nil
		}

		if len(rec.Payload) > 0 {
			if _, err := w.Write(rec.Payload); err != nil {
				return res, fmt.Errorf("%w: write %s: %w", ErrOutput, d.cfg.Output, err)
			}
		}
		d.cfg.Collector.AddRecord(rec.Size(), int64(len(rec.Payload)))
		res.Packets++
		res.Bytes += rec.Size()
	}

	res.Outcome = types.ParseOK
	d.logger.Debug("parsed file", map[string]any{
		"path":    path,
		"packets": res.Packets,
		"bytes":   res.Bytes,
	})
	return res, nil
}

func (d *Demuxer) finishFile(res FileResult, w *BufferedWriter) {
	switch res.Outcome {
	case types.ParseOK:
		d.cfg.Collector.IncFileProcessed()
		if d.cfg.Cleanup {
			if err := d.fs.Remove(res.Path); err != nil {
				d.logger.Warn("could not remove processed file", map[string]any{
					"path":  res.Path,
					"error": err.Error(),
				})
			}
		}
	case types.ParseFailed:
		d.cfg.Collector.IncFileParseFailed()
	case types.ParseSkipped:
		d.cfg.Collector.IncFileSkipped()
	}

	d.processed[naming.KeyOf(res.Path)] = struct{}{}
	d.processedList = append(d.processedList, res.Path)
	d.commit(w)

	if d.cfg.OnFile != nil {
		d.cfg.OnFile(res)
	}
}

func (d *Demuxer) commit(w *BufferedWriter) {
	d.committed = committed{
		counters:    d.cfg.Collector.Snapshot(),
		outputBytes: w.Written() + int64(w.Buffered()),
	}
}

// checkpoint flushes the writer and saves the committed state.
func (d *Demuxer) checkpoint(w *BufferedWriter, completed bool) error {
	if err := w.Flush(); err != nil {
		d.save(false)
		return fmt.Errorf("%w: flush %s: %w", ErrOutput, d.cfg.Output, err)
	}
	d.save(completed)
	return nil
}

func (d *Demuxer) save(completed bool) {
	if d.cfg.Progress == nil || d.cfg.StatePath == "" {
		return
	}
	if err := d.cfg.Progress.Save(d.cfg.StatePath, d.snapshot(completed)); err != nil {
		d.cfg.Collector.IncCheckpointFailure()
		d.logger.Warn("failed to save progress snapshot", map[string]any{
			"path":  d.cfg.StatePath,
			"error": err.Error(),
		})
		return
	}
	d.cfg.Collector.IncCheckpoint()
}

func (d *Demuxer) snapshot(completed bool) types.ProgressSnapshot {
	snap := d.cfg.Base
	c := d.committed.counters
	snap.FilesProcessed = c.FilesProcessed
	snap.FilesParseFailed = c.FilesParseFailed
	snap.FilesSkipped = c.FilesSkipped
	snap.PacketsProcessed = c.PacketsProcessed
	snap.BytesProcessedIn = c.BytesProcessedIn
	snap.OutputBytesWritten = d.committed.outputBytes
	snap.ProcessedFiles = append([]string(nil), d.processedList...)
	snap.Completed = completed
	return snap
}

func (d *Demuxer) stats(completed, appended bool, size int64) Stats {
	c := d.cfg.Collector.Snapshot()
	return Stats{
		FilesProcessed:     c.FilesProcessed,
		FilesParseFailed:   c.FilesParseFailed,
		FilesSkipped:       c.FilesSkipped,
		PacketsProcessed:   c.PacketsProcessed,
		BytesProcessedIn:   c.BytesProcessedIn,
		OutputBytesWritten: c.OutputBytesWritten,
		OutputSize:         size,
		Appended:           appended,
		Completed:          completed,
	}
}

func (d *Demuxer) logSummary(total int, s Stats) {
	d.logger.Info("parsing complete", map[string]any{
		"files_total":     total,
		"files_processed": s.FilesProcessed,
		"files_skipped":   s.FilesSkipped,
		"files_failed":    s.FilesParseFailed,
		"packets":         s.PacketsProcessed,
		"bytes_in":        s.BytesProcessedIn,
		"output_bytes":    s.OutputBytesWritten,
		"output_size":     s.OutputSize,
		"completed":       s.Completed,
	})
}
