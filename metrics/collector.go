// Package metrics provides per-run counter collection.
//
// The Collector is the single state object for every run-level counter. The
// retrieval workers and the demuxer update it concurrently; readers take a
// Snapshot. It is a leaf package with no internal dependencies.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all run counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Retrieval
	FilesFoundLocally       int64 `json:"files_found_locally"`
	FetchesAttempted        int64 `json:"fetches_attempted"`
	FilesDownloaded         int64 `json:"files_downloaded"`
	FilesFailedPermanent    int64 `json:"files_failed_permanent"`
	FilesFailedAfterRetries int64 `json:"files_failed_after_retries"`
	FilesCanceled           int64 `json:"files_canceled"`
	FetchRetries            int64 `json:"fetch_retries"`
	BytesDownloaded         int64 `json:"bytes_downloaded"`

	// Parse
	FilesProcessed     int64 `json:"files_processed"`
	FilesParseFailed   int64 `json:"files_parse_failed"`
	FilesSkipped       int64 `json:"files_skipped"`
	PacketsProcessed   int64 `json:"packets_processed"`
	BytesProcessedIn   int64 `json:"bytes_processed_in"`
	OutputBytesWritten int64 `json:"output_bytes_written"`
	Checkpoints        int64 `json:"checkpoints"`
	CheckpointFailures int64 `json:"checkpoint_failures"`

	// Ledger
	LedgerWriteSuccess int64 `json:"ledger_write_success"`
	LedgerWriteFailure int64 `json:"ledger_write_failure"`

	// Dimensions (informational, set at construction)
	RunID          string `json:"run_id"`
	StorageBackend string `json:"storage_backend"`
}

// FilesFailed returns the number of entries that ended in a fetch failure.
func (s Snapshot) FilesFailed() int64 {
	return s.FilesFailedPermanent + s.FilesFailedAfterRetries
}

// FilesUsable returns the number of entries with a local file ready to parse.
func (s Snapshot) FilesUsable() int64 {
	return s.FilesFoundLocally + s.FilesDownloaded
}

// ParseCounters are the parse-phase counters restored from a resume snapshot.
type ParseCounters struct {
	FilesProcessed     int64
	FilesParseFailed   int64
	FilesSkipped       int64
	PacketsProcessed   int64
	BytesProcessedIn   int64
	OutputBytesWritten int64
}

// Collector accumulates counters during a single run.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex
	s  Snapshot
}

// NewCollector creates a Collector with dimension labels.
func NewCollector(runID, storageBackend string) *Collector {
	return &Collector{s: Snapshot{RunID: runID, StorageBackend: storageBackend}}
}

func (c *Collector) update(fn func(s *Snapshot)) {
	if c == nil {
		return
	}
	c.mu.Lock()
	fn(&c.s)
	c.mu.Unlock()
}

// --- Retrieval ---

// IncFoundLocally records an entry already present on local disk.
func (c *Collector) IncFoundLocally() {
	c.update(func(s *Snapshot) { s.FilesFoundLocally++ })
}

// IncFetchAttempted records a fetch task that started work.
func (c *Collector) IncFetchAttempted() {
	c.update(func(s *Snapshot) { s.FetchesAttempted++ })
}

// IncDownloaded records a completed download of n bytes.
func (c *Collector) IncDownloaded(n int64) {
	c.update(func(s *Snapshot) {
		s.FilesDownloaded++
		s.BytesDownloaded += n
	})
}

// IncFailedPermanent records a not-found or access-denied entry.
func (c *Collector) IncFailedPermanent() {
	c.update(func(s *Snapshot) { s.FilesFailedPermanent++ })
}

// IncFailedAfterRetries records an entry that exhausted every attempt.
func (c *Collector) IncFailedAfterRetries() {
	c.update(func(s *Snapshot) { s.FilesFailedAfterRetries++ })
}

// IncCanceled records an entry abandoned because the run was canceled.
func (c *Collector) IncCanceled() {
	c.update(func(s *Snapshot) { s.FilesCanceled++ })
}

// IncRetry records a retry after a transient failure.
func (c *Collector) IncRetry() {
	c.update(func(s *Snapshot) { s.FetchRetries++ })
}

// SeedRetrieval restores retrieval counters carried over from a resume snapshot.
func (c *Collector) SeedRetrieval(foundLocally, downloaded int64) {
	c.update(func(s *Snapshot) {
		s.FilesFoundLocally += foundLocally
		s.FilesDownloaded += downloaded
	})
}

// --- Parse ---

// AddRecord records one extracted record: bytesIn is header plus payload,
// bytesOut is the payload bytes written to the output.
func (c *Collector) AddRecord(bytesIn, bytesOut int64) {
	c.update(func(s *Snapshot) {
		s.PacketsProcessed++
		s.BytesProcessedIn += bytesIn
		s.OutputBytesWritten += bytesOut
	})
}

// IncFileProcessed records a file parsed to clean end of input.
func (c *Collector) IncFileProcessed() {
	c.update(func(s *Snapshot) { s.FilesProcessed++ })
}

// IncFileParseFailed records a truncated, corrupt or unreadable file.
func (c *Collector) IncFileParseFailed() {
	c.update(func(s *Snapshot) { s.FilesParseFailed++ })
}

// IncFileSkipped records a listed file that was absent on disk.
func (c *Collector) IncFileSkipped() {
	c.update(func(s *Snapshot) { s.FilesSkipped++ })
}

// IncCheckpoint records a persisted progress snapshot.
func (c *Collector) IncCheckpoint() {
	c.update(func(s *Snapshot) { s.Checkpoints++ })
}

// IncCheckpointFailure records a progress snapshot that failed to persist.
func (c *Collector) IncCheckpointFailure() {
	c.update(func(s *Snapshot) { s.CheckpointFailures++ })
}

// SeedParse restores parse counters carried over from a resume snapshot.
func (c *Collector) SeedParse(p ParseCounters) {
	c.update(func(s *Snapshot) {
		s.FilesProcessed += p.FilesProcessed
		s.FilesParseFailed += p.FilesParseFailed
		s.FilesSkipped += p.FilesSkipped
		s.PacketsProcessed += p.PacketsProcessed
		s.BytesProcessedIn += p.BytesProcessedIn
		s.OutputBytesWritten += p.OutputBytesWritten
	})
}

// --- Ledger ---

// IncLedgerWriteSuccess records a successful ledger write.
func (c *Collector) IncLedgerWriteSuccess() {
	c.update(func(s *Snapshot) { s.LedgerWriteSuccess++ })
}

// IncLedgerWriteFailure records a failed ledger write.
func (c *Collector) IncLedgerWriteFailure() {
	c.update(func(s *Snapshot) { s.LedgerWriteFailure++ })
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
// The Collector can continue to be mutated independently.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
