// Package naming maps UTC instants to interval file paths and back.
//
// Interval files are laid out as DDMMYYYY/HH/<start>-<end>.es where start
// and end are UTC epoch seconds. The nominal interval is 4 seconds aligned
// within the hour, but a file's real span is always re-read from its name:
// late catch-up files and merged segments carry other durations.
package naming

import (
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/tsrebuild/log"
)

// DefaultDuration is the nominal interval length in seconds. Used for
// forward path computation and as the fallback for unparseable names.
const DefaultDuration int64 = 4

// Extension is the container file extension.
const Extension = ".es"

// ErrBadName is returned when a file name does not match <start>-<end>.es.
var ErrBadName = errors.New("file name does not match <start>-<end>.es")

var namePattern = regexp.MustCompile(`^(\d+)-(\d+)\.es$`)

var logger atomic.Pointer[log.Logger]

// SetLogger routes codec anomaly logs (bad names, non-positive durations)
// to l. Passing nil silences them.
func SetLogger(l *log.Logger) {
	logger.Store(l)
}

// Interval is the identity of one remote container file.
type Interval struct {
	// RelPath is the path relative to the store prefix or local root.
	RelPath string
	// Start is the first UTC second covered.
	Start int64
	// Duration is the span in seconds. Always > 0.
	Duration int64
}

// End returns the first UTC second not covered.
func (i Interval) End() int64 {
	return i.Start + i.Duration
}

// AlignStart returns the start of the default-length interval containing utc.
// Alignment is relative to the containing hour. Instants before the epoch
// align downward like any other.
func AlignStart(utc int64) int64 {
	return utc - floorMod(floorMod(utc, 3600), DefaultDuration)
}

func floorMod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

// KeyOf returns the interval identity of a local or remote path: its last
// three elements, DDMMYYYY/HH/<start>-<end>.es, slash separated. It is the
// same for a file wherever its local root is. Shorter paths are returned
// whole.
func KeyOf(p string) string {
	p = path.Clean(filepath.ToSlash(p))
	n := 0
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' {
			n++
			if n == 3 {
				return p[i+1:]
			}
		}
	}
	return strings.TrimPrefix(p, "/")
}

// PathForInstant returns the relative path of the default-length interval
// containing utc, e.g. "14112023/22/1700000000-1700000004.es".
func PathForInstant(utc int64) string {
	start := AlignStart(utc)
	end := start + DefaultDuration

	t := time.Unix(start, 0).UTC()
	return fmt.Sprintf("%s/%s/%d-%d%s", t.Format("02012006"), t.Format("15"), start, end, Extension)
}

// IntervalForInstant returns the interval identity for utc. The duration is
// read back from the computed name, so it always equals DefaultDuration.
func IntervalForInstant(utc int64) Interval {
	rel := PathForInstant(utc)
	return Interval{
		RelPath:  rel,
		Start:    AlignStart(utc),
		Duration: DurationOf(rel),
	}
}

// ParseName extracts start and end epochs from a path or base name.
func ParseName(nameOrPath string) (start, end int64, err error) {
	base := baseName(nameOrPath)
	m := namePattern.FindStringSubmatch(base)
	if m == nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadName, base)
	}
	start, err = strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrBadName, base, err)
	}
	end, err = strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q: %v", ErrBadName, base, err)
	}
	return start, end, nil
}

// DurationOf returns end-start parsed from the file name. Non-positive spans
// and names that do not match fall back to DefaultDuration with a warning.
func DurationOf(nameOrPath string) int64 {
	start, end, err := ParseName(nameOrPath)
	if err != nil {
		logger.Load().Warn("unparseable interval name, using default duration", map[string]any{
			"name":    baseName(nameOrPath),
			"default": DefaultDuration,
			"error":   err.Error(),
		})
		return DefaultDuration
	}
	if d := end - start; d > 0 {
		return d
	}
	logger.Load().Warn("non-positive interval duration, using default", map[string]any{
		"name":    baseName(nameOrPath),
		"start":   start,
		"end":     end,
		"default": DefaultDuration,
	})
	return DefaultDuration
}

// ParseStartEpoch returns the start epoch encoded in the file name.
func ParseStartEpoch(nameOrPath string) (int64, error) {
	start, _, err := ParseName(nameOrPath)
	return start, err
}

// StartEpochOf returns the start epoch encoded in the file name, or 0 when
// the name is unparseable. Callers must treat 0 as "unknown, sort first",
// never as a real epoch.
func StartEpochOf(nameOrPath string) int64 {
	start, err := ParseStartEpoch(nameOrPath)
	if err != nil {
		logger.Load().Error("cannot extract start epoch", map[string]any{
			"name":  baseName(nameOrPath),
			"error": err.Error(),
		})
		return 0
	}
	return start
}

// FormatUTC renders epoch seconds for log and summary output.
func FormatUTC(sec int64) string {
	return time.Unix(sec, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

// baseName strips directories, accepting both OS and slash separators.
func baseName(p string) string {
	return path.Base(filepath.ToSlash(p))
}
