// Package adapter publishes run completion notifications to downstream systems.
//
// The pipeline owns adapter lifecycle; users provide configuration only.
// A failed publish is logged and never changes the run outcome.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// EventTypeRunCompleted is the only event type published.
const EventTypeRunCompleted = "run_completed"

// RunCompletedEvent is the payload published when a rebuild run finishes.
type RunCompletedEvent struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"` // always "run_completed"
	RunID           string `json:"run_id"`
	Outcome         string `json:"outcome"` // success, no_input, interrupted, ...
	Message         string `json:"message,omitempty"`
	Output          string `json:"output"`
	WindowStart     int64  `json:"window_start"`
	WindowEnd       int64  `json:"window_end"`
	Resumed         bool   `json:"resumed"`
	Timestamp       string `json:"timestamp"` // RFC 3339

	FilesDownloaded    int64  `json:"files_downloaded"`
	FilesFailed        int64  `json:"files_failed"`
	FilesProcessed     int64  `json:"files_processed"`
	FilesParseFailed   int64  `json:"files_parse_failed"`
	PacketsProcessed   int64  `json:"packets_processed"`
	OutputBytesWritten int64  `json:"output_bytes_written"`
	Checksum           string `json:"checksum,omitempty"`
	DurationMs         int64  `json:"duration_ms"`
}

// Adapter publishes run completion events to a downstream system.
type Adapter interface {
	// Publish sends a run completion event. Must respect ctx cancellation.
	Publish(ctx context.Context, event *RunCompletedEvent) error

	// Close releases adapter resources.
	Close() error
}

// BaseBackoff is the delay before the first retry. It doubles per retry.
const BaseBackoff = 500 * time.Millisecond

// permanentError marks an error that must not be retried.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retriable for Retry.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls fn up to 1+retries times with exponential backoff starting at
// base. It stops early on success, on a Permanent error or when ctx ends.
// name prefixes returned errors.
func Retry(ctx context.Context, name string, retries int, base time.Duration, fn func(context.Context) error) error {
	var lastErr error
	attempts := 1 + retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s: context canceled: %w", name, err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * base
			select {
			case <-ctx.Done():
				return fmt.Errorf("%s: context canceled during backoff: %w", name, ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("%s: non-retriable error: %w", name, perm.err)
		}
	}

	return fmt.Errorf("%s: failed after %d attempts: %w", name, attempts, lastErr)
}
