// Package types defines core domain types shared by the tsrebuild packages.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"
)

// TimeWindow is the closed-open UTC interval [Start, End) a run rebuilds.
// Immutable for the duration of a run.
type TimeWindow struct {
	// Start is the first UTC second covered.
	Start int64 `json:"start_utc" yaml:"start_utc"`
	// End is the first UTC second not covered.
	End int64 `json:"end_utc" yaml:"end_utc"`
}

// Validate checks Start < End.
func (w TimeWindow) Validate() error {
	if w.Start >= w.End {
		return fmt.Errorf("invalid time window: start (%d) must be less than end (%d)", w.Start, w.End)
	}
	return nil
}

// Seconds returns the window length in seconds.
func (w TimeWindow) Seconds() int64 {
	return w.End - w.Start
}

// RunMeta contains run identity.
type RunMeta struct {
	// RunID is the canonical run identifier. Must be globally unique.
	RunID string
	// Window is the time window being rebuilt.
	Window TimeWindow
	// Resumed is true when the run was seeded from a progress snapshot.
	Resumed bool
}

// Validate checks that the run identity is usable for logging and reporting.
func (r *RunMeta) Validate() error {
	if r.RunID == "" {
		return errors.New("run_id must be non-empty")
	}
	return r.Window.Validate()
}

// OutcomeStatus represents the final status of a run.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates every phase completed. Individual files may
	// still have failed; see the summary counters.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeNoInput indicates no usable input file was found or downloaded.
	OutcomeNoInput OutcomeStatus = "no_input"
	// OutcomeOutputFailure indicates the output artifact could not be opened or written.
	OutcomeOutputFailure OutcomeStatus = "output_failure"
	// OutcomeInterrupted indicates the run was canceled before completion.
	OutcomeInterrupted OutcomeStatus = "interrupted"
	// OutcomeAlreadyComplete indicates a previous run already finished this output.
	OutcomeAlreadyComplete OutcomeStatus = "already_complete"
)

// RunOutcome represents the final outcome of a run.
type RunOutcome struct {
	// Status is the outcome classification.
	Status OutcomeStatus `json:"status"`
	// Message is a human-readable description.
	Message string `json:"message"`
}
