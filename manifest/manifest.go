// Package manifest computes the set of interval files expected to cover a
// time window. It never contacts the object store.
package manifest

import (
	"path/filepath"

	"github.com/pithecene-io/tsrebuild/naming"
	"github.com/pithecene-io/tsrebuild/types"
)

// Entry is one expected interval file.
type Entry struct {
	// RelPath is the path relative to the store prefix and the local root.
	RelPath string `json:"rel_path" yaml:"rel_path"`
	// Remote is the full object identity (scheme://bucket/key).
	Remote string `json:"remote" yaml:"remote"`
	// Local is the destination path on disk.
	Local string `json:"local" yaml:"local"`
	// Start is the interval start epoch encoded in RelPath.
	Start int64 `json:"start" yaml:"start"`
	// Duration is the interval span encoded in RelPath.
	Duration int64 `json:"duration" yaml:"duration"`
}

// Manifest is the ordered, deduplicated list of entries for one window.
// Entries are read-only once built and safe to share across goroutines.
type Manifest struct {
	window  types.TimeWindow
	entries []Entry
}

// Build walks window from Start, stepping by each interval's own duration,
// and collects one entry per distinct relative path.
//
// The cursor advances from the start of the interval it landed in, so the
// last entry always reaches window.End even when window.Start is unaligned.
// Every step advances at least one second, so the walk always terminates.
func Build(window types.TimeWindow, remotePrefix, localRoot string) (*Manifest, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	m := &Manifest{window: window}
	seen := make(map[string]struct{})

	for cursor := window.Start; cursor < window.End; {
		rel := naming.PathForInstant(cursor)
		start := naming.AlignStart(cursor)
		duration := naming.DurationOf(rel)

		if _, dup := seen[rel]; !dup {
			seen[rel] = struct{}{}
			m.entries = append(m.entries, Entry{
				RelPath:  rel,
				Remote:   naming.JoinRemote(remotePrefix, rel),
				Local:    filepath.Join(localRoot, filepath.FromSlash(rel)),
				Start:    start,
				Duration: duration,
			})
		}

		next := start + duration
		if next <= cursor {
			next = cursor + 1
		}
		cursor = next
	}

	return m, nil
}

// Window returns the window the manifest was built for.
func (m *Manifest) Window() types.TimeWindow {
	return m.window
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	return len(m.entries)
}

// Entries returns a copy of the entries in chronological order.
func (m *Manifest) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Coverage returns the first covered second and the first second past the
// last entry. Both are 0 for an empty manifest.
func (m *Manifest) Coverage() (start, end int64) {
	if len(m.entries) == 0 {
		return 0, 0
	}
	last := m.entries[len(m.entries)-1]
	return m.entries[0].Start, last.Start + last.Duration
}
