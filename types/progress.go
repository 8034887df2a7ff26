package types

import "time"

// ProgressSnapshot is the persisted resume state for one output artifact.
// Stored as JSON in the sidecar file next to the output. Unknown fields are
// ignored on load and missing fields keep their zero values, so older
// snapshots load as "nothing done yet" for the fields they lack.
type ProgressSnapshot struct {
	// Version is the snapshot schema version (SnapshotVersion at write time).
	Version int `json:"version"`

	// Retrieval phase.
	DownloadedFiles   []string `json:"downloaded_files,omitempty"`
	FilesFoundLocally int64    `json:"files_found_locally"`
	FilesDownloaded   int64    `json:"files_downloaded"`
	FilesFailed       int64    `json:"files_failed"`

	// Parse phase.
	PacketsProcessed   int64    `json:"packets_processed"`
	BytesProcessedIn   int64    `json:"bytes_processed_in"`
	OutputBytesWritten int64    `json:"output_bytes_written"`
	FilesProcessed     int64    `json:"files_processed"`
	FilesParseFailed   int64    `json:"files_parse_failed"`
	FilesSkipped       int64    `json:"files_skipped"`
	ProcessedFiles     []string `json:"processed_files,omitempty"`

	// Completed is true only after the whole file list was parsed without interruption.
	Completed bool `json:"completed"`
	// Timestamp is the time the snapshot was written.
	Timestamp time.Time `json:"timestamp"`
}

// IsEmpty reports whether the snapshot carries no progress at all.
func (s *ProgressSnapshot) IsEmpty() bool {
	if s == nil {
		return true
	}
	return len(s.DownloadedFiles) == 0 &&
		len(s.ProcessedFiles) == 0 &&
		s.FilesFoundLocally == 0 &&
		s.FilesFailed == 0 &&
		s.PacketsProcessed == 0 &&
		s.OutputBytesWritten == 0 &&
		!s.Completed
}

// HasRetrieval reports whether the snapshot carries a prior downloaded-file list.
func (s *ProgressSnapshot) HasRetrieval() bool {
	return s != nil && len(s.DownloadedFiles) > 0
}

// HasParse reports whether the snapshot carries parse-phase progress.
func (s *ProgressSnapshot) HasParse() bool {
	return s != nil && (len(s.ProcessedFiles) > 0 || s.PacketsProcessed > 0 || s.OutputBytesWritten > 0)
}
