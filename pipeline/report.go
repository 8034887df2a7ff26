package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pithecene-io/tsrebuild/demux"
	"github.com/pithecene-io/tsrebuild/metrics"
	"github.com/pithecene-io/tsrebuild/types"
)

// RunReport is the structured JSON report written by --report.
type RunReport struct {
	Version    string              `json:"version"`
	RunID      string              `json:"run_id"`
	Outcome    types.OutcomeStatus `json:"outcome"`
	Message    string              `json:"message"`
	ExitCode   int                 `json:"exit_code"`
	DurationMs int64               `json:"duration_ms"`
	Output     string              `json:"output"`
	Window     types.TimeWindow    `json:"window"`
	Resumed    bool                `json:"resumed"`

	Manifest  *ReportManifest   `json:"manifest"`
	Retrieval *ReportRetrieval  `json:"retrieval"`
	Parse     *demux.Stats      `json:"parse"`
	Metrics   *metrics.Snapshot `json:"metrics"`
	Checksum  *ReportChecksum   `json:"checksum,omitempty"`
}

// ReportManifest holds manifest stats in the report.
type ReportManifest struct {
	Entries       int   `json:"entries"`
	CoverageStart int64 `json:"coverage_start"`
	CoverageEnd   int64 `json:"coverage_end"`
}

// ReportRetrieval holds retrieval stats in the report.
type ReportRetrieval struct {
	FoundLocally       int64 `json:"found_locally"`
	Downloaded         int64 `json:"downloaded"`
	FailedPermanent    int64 `json:"failed_permanent"`
	FailedAfterRetries int64 `json:"failed_after_retries"`
	Canceled           int64 `json:"canceled"`
	Retries            int64 `json:"retries"`
	BytesDownloaded    int64 `json:"bytes_downloaded"`
	UsableFiles        int   `json:"usable_files"`
}

// ReportChecksum holds the output digest.
type ReportChecksum struct {
	Algo   string `json:"algo"`
	Digest string `json:"digest"`
}

// BuildRunReport composes a RunReport from a run result.
func BuildRunReport(result *Result) *RunReport {
	snap := result.Metrics
	parse := result.Parse
	report := &RunReport{
		Version:    types.Version,
		RunID:      result.RunMeta.RunID,
		Outcome:    result.Outcome.Status,
		Message:    result.Outcome.Message,
		ExitCode:   result.ExitCode(),
		DurationMs: result.Duration.Milliseconds(),
		Output:     result.Output,
		Window:     result.RunMeta.Window,
		Resumed:    result.RunMeta.Resumed,
		Manifest: &ReportManifest{
			Entries:       result.ManifestEntries,
			CoverageStart: result.CoverageStart,
			CoverageEnd:   result.CoverageEnd,
		},
		Retrieval: &ReportRetrieval{
			FoundLocally:       snap.FilesFoundLocally,
			Downloaded:         snap.FilesDownloaded,
			FailedPermanent:    snap.FilesFailedPermanent,
			FailedAfterRetries: snap.FilesFailedAfterRetries,
			Canceled:           snap.FilesCanceled,
			Retries:            snap.FetchRetries,
			BytesDownloaded:    snap.BytesDownloaded,
			UsableFiles:        len(result.Files),
		},
		Parse:   &parse,
		Metrics: &snap,
	}
	if result.Checksum != "" {
		report.Checksum = &ReportChecksum{Algo: ChecksumAlgo, Digest: result.Checksum}
	}
	return report
}

// WriteRunReport writes the report as JSON to path. "-" writes to stderr.
func WriteRunReport(report *RunReport, path string) error {
	if path == "" {
		return errors.New("report path must not be empty")
	}

	if path == "-" {
		if err := writeRunReportTo(report, os.Stderr); err != nil {
			return fmt.Errorf("failed to write report to stderr: %w", err)
		}
		return nil
	}

	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report to %s: %w", path, err)
	}
	return nil
}

func writeRunReportTo(report *RunReport, w io.Writer) error {
	data, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func marshalReport(report *RunReport) ([]byte, error) {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}
	return append(data, '\n'), nil
}
