package types

// Version is the canonical project version.
// The CLI, the progress snapshot schema and the run report share this version.
const Version = "0.3.0"

// SnapshotVersion is the schema version of the progress sidecar.
// Bump when ProgressSnapshot gains a field whose zero value is not a safe default.
const SnapshotVersion = 1
