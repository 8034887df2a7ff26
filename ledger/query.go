package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoRecords is returned when no run summary matches the query.
var ErrNoRecords = errors.New("no run records found")

// Filter narrows a history query. Empty fields match everything.
type Filter struct {
	RunID  string
	Output string
	Status string
}

func (f Filter) matches(e Entry) bool {
	if f.RunID != "" && e.RunID != f.RunID {
		return false
	}
	if f.Output != "" && e.Output != f.Output {
		return false
	}
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	return true
}

// Latest returns the most recent summary matching f, or ErrNoRecords.
func (l *Ledger) Latest(ctx context.Context, f Filter) (Entry, error) {
	entries, err := l.History(ctx, f, 1)
	if err != nil {
		return Entry{}, err
	}
	return entries[0], nil
}

// History returns up to limit summaries matching f, newest first.
// A limit of zero or less returns every match.
func (l *Ledger) History(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	snapshots, err := l.dataset.Snapshots(ctx)
	if err != nil {
		return nil, wrap(err, "read", l.name+"/snapshots")
	}

	var out []Entry
	// Snapshots are ordered oldest first.
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		if !snapshotMatchesFilter(snap, "run_id", f.RunID) {
			continue
		}

		data, err := l.dataset.Read(ctx, snap.ID)
		if err != nil {
			return nil, wrap(err, "read", fmt.Sprintf("%s/snapshot/%s", l.name, snap.ID))
		}

		// Manifest paths are a coarse pre-filter; record fields decide.
		for j := len(data) - 1; j >= 0; j-- {
			record, ok := data[j].(map[string]any)
			if !ok || record["record_kind"] != RecordKindRun {
				continue
			}
			e, err := fromRecordMap(record)
			if err != nil || !f.matches(e) {
				continue
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				return out, nil
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoRecords
	}
	return out, nil
}

// snapshotMatchesFilter reports whether any file in snap sits under the
// key=value partition. An empty value matches every snapshot.
func snapshotMatchesFilter(snap *lode.DatasetSnapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// run_id=run-1 does not match run_id=run-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
