// Package progress persists and restores resume snapshots.
//
// A snapshot lives in a sidecar file next to the output artifact. Faults on
// load never propagate as errors: a missing, unreadable or malformed sidecar
// is reported through LoadStatus and the caller starts from scratch.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pithecene-io/tsrebuild/types"
)

// Suffix is appended to the output path to form the sidecar path.
const Suffix = ".state"

// LoadStatus classifies the result of Load.
type LoadStatus int

const (
	// LoadOK indicates a snapshot was read and decoded.
	LoadOK LoadStatus = iota
	// LoadMissing indicates no sidecar exists.
	LoadMissing
	// LoadUnreadable indicates the sidecar exists but could not be read.
	LoadUnreadable
	// LoadMalformed indicates the sidecar could not be decoded.
	LoadMalformed
)

// String returns the status name.
func (s LoadStatus) String() string {
	switch s {
	case LoadOK:
		return "ok"
	case LoadMissing:
		return "missing"
	case LoadUnreadable:
		return "unreadable"
	case LoadMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("LoadStatus(%d)", int(s))
	}
}

// Path returns the sidecar path for an output artifact.
func Path(output string) string {
	return output + Suffix
}

// Store reads and writes snapshots on a filesystem.
type Store struct {
	fs  afero.Fs
	now func() time.Time
}

// NewStore creates a store backed by fsys. A nil fsys uses the OS filesystem.
func NewStore(fsys afero.Fs) *Store {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Store{fs: fsys, now: time.Now}
}

// Save writes snap to path, stamping Version and Timestamp.
// The snapshot is written to a temporary file and renamed into place so a
// crash mid-write never leaves a truncated sidecar.
func (s *Store) Save(path string, snap types.ProgressSnapshot) error {
	snap.Version = types.SnapshotVersion
	snap.Timestamp = s.now().UTC()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress snapshot: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create progress dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress snapshot: %w", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("commit progress snapshot: %w", err)
	}
	return nil
}

// Load reads the snapshot at path. The returned snapshot is the zero value
// unless the status is LoadOK.
func (s *Store) Load(path string) (types.ProgressSnapshot, LoadStatus) {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.ProgressSnapshot{}, LoadMissing
		}
		return types.ProgressSnapshot{}, LoadUnreadable
	}

	var snap types.ProgressSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.ProgressSnapshot{}, LoadMalformed
	}
	return snap, LoadOK
}

// Exists reports whether a sidecar exists at path.
func (s *Store) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}
