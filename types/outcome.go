package types

// FetchOutcome is the terminal outcome of one manifest entry in the retrieval phase.
type FetchOutcome string

const (
	// FetchFoundLocally indicates the file already existed at its local path.
	FetchFoundLocally FetchOutcome = "found_locally"
	// FetchDownloaded indicates the file was fetched from the object store.
	FetchDownloaded FetchOutcome = "downloaded"
	// FetchFailedPermanent indicates a not-found or access-denied error. Not retried.
	FetchFailedPermanent FetchOutcome = "failed_permanent"
	// FetchFailedAfterRetries indicates transient errors exhausted every attempt.
	FetchFailedAfterRetries FetchOutcome = "failed_after_retries"
	// FetchCanceled indicates the run was interrupted before the entry reached
	// another terminal outcome.
	FetchCanceled FetchOutcome = "canceled"
)

// Usable reports whether the outcome leaves a local file ready for parsing.
func (o FetchOutcome) Usable() bool {
	return o == FetchFoundLocally || o == FetchDownloaded
}

// IsFailure reports whether the outcome counts toward the failed counter.
func (o FetchOutcome) IsFailure() bool {
	return o == FetchFailedPermanent || o == FetchFailedAfterRetries
}

// ParseOutcome is the terminal outcome of one file in the parse phase.
type ParseOutcome string

const (
	// ParseOK indicates every record in the file was extracted.
	ParseOK ParseOutcome = "ok"
	// ParseFailed indicates truncation, corruption or a read error. The file is kept on disk.
	ParseFailed ParseOutcome = "failed"
	// ParseSkipped indicates the file was listed but absent on disk.
	ParseSkipped ParseOutcome = "skipped"
)
