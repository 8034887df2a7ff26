// Package ledger keeps an append-only history of rebuild runs.
//
// Each finished run appends one summary record to a Lode dataset laid out
// as day=YYYY-MM-DD/run_id=<id>. The history command reads it back. The
// ledger is optional: a run without one behaves the same, it just leaves no
// history.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"
	lodes3 "github.com/justapithecus/lode/lode/s3"

	"github.com/pithecene-io/tsrebuild/remote"
)

// DefaultDataset is the dataset ID used when none is configured.
const DefaultDataset = "tsrebuild"

// RecordKindRun marks run summary records.
const RecordKindRun = "run_summary"

// Backend names accepted by Options.Backend.
const (
	BackendFS     = "fs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Entry is one run summary as stored in the ledger.
type Entry struct {
	RecordKind string `json:"record_kind"`
	RunID      string `json:"run_id"`
	Day        string `json:"day"`

	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Output  string `json:"output"`
	Resumed bool   `json:"resumed"`

	WindowStart int64 `json:"window_start"`
	WindowEnd   int64 `json:"window_end"`

	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	DurationMS  int64     `json:"duration_ms"`

	ManifestEntries    int64 `json:"manifest_entries"`
	FilesFoundLocally  int64 `json:"files_found_locally"`
	FilesDownloaded    int64 `json:"files_downloaded"`
	FilesFailed        int64 `json:"files_failed"`
	FilesProcessed     int64 `json:"files_processed"`
	FilesParseFailed   int64 `json:"files_parse_failed"`
	FilesSkipped       int64 `json:"files_skipped"`
	PacketsProcessed   int64 `json:"packets_processed"`
	BytesProcessedIn   int64 `json:"bytes_processed_in"`
	OutputBytesWritten int64 `json:"output_bytes_written"`
	OutputSize         int64 `json:"output_size"`

	Checksum     string `json:"checksum,omitempty"`
	ChecksumAlgo string `json:"checksum_algo,omitempty"`
}

// Options selects the ledger backend.
type Options struct {
	// Dataset is the Lode dataset ID. Defaults to DefaultDataset.
	Dataset string
	// Backend is "fs", "s3" or "memory".
	Backend string
	// Path is the FS root, or the key prefix for S3.
	Path string
	// Bucket is the S3 bucket.
	Bucket string
	// S3 carries client settings for the S3 backend.
	S3 remote.S3Config
}

// Ledger appends and reads run summaries.
type Ledger struct {
	dataset lode.Dataset
	name    string

	mu sync.Mutex // serializes appends
}

// Open creates a ledger for the configured backend.
func Open(ctx context.Context, opts Options) (*Ledger, error) {
	name := opts.Dataset
	if name == "" {
		name = DefaultDataset
	}

	switch opts.Backend {
	case BackendFS, "":
		if opts.Path == "" {
			return nil, errors.New("ledger fs backend requires a path")
		}
		return NewWithFactory(name, lode.NewFSFactory(opts.Path))
	case BackendMemory:
		return NewWithFactory(name, lode.NewMemoryFactory())
	case BackendS3:
		if opts.Bucket == "" {
			return nil, errors.New("ledger s3 backend requires a bucket")
		}
		client, err := remote.NewS3Client(ctx, opts.S3)
		if err != nil {
			return nil, wrap(err, "init", name)
		}
		factory := func() (lode.Store, error) {
			return lodes3.New(client, lodes3.Config{
				Bucket: opts.Bucket,
				Prefix: opts.Path,
			})
		}
		return NewWithFactory(name, factory)
	default:
		return nil, fmt.Errorf("unknown ledger backend %q (want fs, s3 or memory)", opts.Backend)
	}
}

// NewWithFactory creates a ledger over a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewWithFactory(dataset string, factory lode.StoreFactory) (*Ledger, error) {
	ds, err := lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout("day", "run_id"),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
	if err != nil {
		return nil, wrap(err, "init", dataset)
	}
	return &Ledger{dataset: ds, name: dataset}, nil
}

// Dataset returns the underlying Lode dataset.
func (l *Ledger) Dataset() lode.Dataset {
	return l.dataset
}

// Append writes one run summary. RecordKind and Day are filled in when empty.
func (l *Ledger) Append(ctx context.Context, e Entry) error {
	if e.RunID == "" {
		return errors.New("ledger entry requires a run_id")
	}
	if e.RecordKind == "" {
		e.RecordKind = RecordKindRun
	}
	if e.Day == "" {
		e.Day = DeriveDay(e.CompletedAt)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.dataset.Write(ctx, []any{toRecordMap(e)}, lode.Metadata{})
	return wrap(err, "write", l.name+"/run_id="+e.RunID)
}

// DeriveDay formats t as the day partition value. Zero times use the current day.
func DeriveDay(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format("2006-01-02")
}

// toRecordMap flattens an entry into the map form the JSONL codec stores.
// Partition keys (day, run_id) must be present as record fields.
func toRecordMap(e Entry) map[string]any {
	m := map[string]any{
		"record_kind":          e.RecordKind,
		"run_id":               e.RunID,
		"day":                  e.Day,
		"status":               e.Status,
		"output":               e.Output,
		"resumed":              e.Resumed,
		"window_start":         e.WindowStart,
		"window_end":           e.WindowEnd,
		"started_at":           e.StartedAt.UTC().Format(time.RFC3339Nano),
		"completed_at":         e.CompletedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms":          e.DurationMS,
		"manifest_entries":     e.ManifestEntries,
		"files_found_locally":  e.FilesFoundLocally,
		"files_downloaded":     e.FilesDownloaded,
		"files_failed":         e.FilesFailed,
		"files_processed":      e.FilesProcessed,
		"files_parse_failed":   e.FilesParseFailed,
		"files_skipped":        e.FilesSkipped,
		"packets_processed":    e.PacketsProcessed,
		"bytes_processed_in":   e.BytesProcessedIn,
		"output_bytes_written": e.OutputBytesWritten,
		"output_size":          e.OutputSize,
	}
	if e.Message != "" {
		m["message"] = e.Message
	}
	if e.Checksum != "" {
		m["checksum"] = e.Checksum
		m["checksum_algo"] = e.ChecksumAlgo
	}
	return m
}

// fromRecordMap decodes a stored record. Numbers come back as float64 from
// the codec, so the map is re-encoded and decoded into the typed struct.
func fromRecordMap(record map[string]any) (Entry, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return Entry{}, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, err
	}
	return e, nil
}
