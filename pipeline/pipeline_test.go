package pipeline

import (
	"bytes"
	"context"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/lode/lode"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/pithecene-io/tsrebuild/adapter"
	"github.com/pithecene-io/tsrebuild/demux"
	"github.com/pithecene-io/tsrebuild/ledger"
	"github.com/pithecene-io/tsrebuild/log"
	"github.com/pithecene-io/tsrebuild/manifest"
	"github.com/pithecene-io/tsrebuild/progress"
	"github.com/pithecene-io/tsrebuild/remote/remotetest"
	"github.com/pithecene-io/tsrebuild/retrieval"
	"github.com/pithecene-io/tsrebuild/types"
)

const (
	testPrefix = "s3://bucket/rec"
	testRoot   = "/work"
	testOutput = "/out/rec.ts"
)

var testWindow = types.TimeWindow{Start: 1000, End: 1012}

type env struct {
	fs      afero.Fs
	store   *remotetest.Store
	entries []manifest.Entry
	// payloads[i] holds the record payloads of entries[i].
	payloads [][][]byte
}

// newEnv puts two records per interval into the in-memory store, except for the
// entries listed in missing.
func newEnv(t *testing.T, missing ...int) *env {
	t.Helper()
	m, err := manifest.Build(testWindow, testPrefix, testRoot)
	require.NoError(t, err)

	e := &env{
		fs:      afero.NewMemMapFs(),
		store:   remotetest.NewStore(),
		entries: m.Entries(),
	}
	skip := make(map[int]bool)
	for _, i := range missing {
		skip[i] = true
	}
	for i, entry := range e.entries {
		payloads := [][]byte{
			[]byte(entry.RelPath + "#0"),
			[]byte(entry.RelPath + "#1"),
		}
		e.payloads = append(e.payloads, payloads)
		if skip[i] {
			continue
		}
		var data []byte
		for j, p := range payloads {
			data = demux.AppendRecord(data, demux.Header{
				Marker:       0x47,
				CaptureNanos: (entry.Start + int64(j)) * int64(time.Second),
				PCR:          (entry.Start + int64(j)) * 27_000_000,
			}, p)
		}
		e.store.Put(entry.Remote, data)
	}
	return e
}

func (e *env) config(mutate ...func(*Config)) Config {
	tick := time.Date(2026, 2, 3, 15, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	cfg := Config{
		RunID:          "run-test",
		Window:         testWindow,
		RemotePrefix:   testPrefix,
		LocalRoot:      testRoot,
		Output:         testOutput,
		Workers:        2,
		RetryDelay:     time.Millisecond,
		BufferSize:     32,
		Store:          e.store,
		StorageBackend: "stub",
		Fs:             e.fs,
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			tick = tick.Add(time.Second)
			return tick
		},
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	return cfg
}

// expected concatenates the payloads of the given entries in order.
func (e *env) expected(indexes ...int) []byte {
	var out []byte
	for _, i := range indexes {
		for _, p := range e.payloads[i] {
			out = append(out, p...)
		}
	}
	return out
}

func (e *env) output(t *testing.T) []byte {
	t.Helper()
	data, err := afero.ReadFile(e.fs, testOutput)
	require.NoError(t, err)
	return data
}

type captureAdapter struct {
	mu     sync.Mutex
	events []*adapter.RunCompletedEvent
}

func (c *captureAdapter) Publish(_ context.Context, event *adapter.RunCompletedEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureAdapter) Close() error { return nil }

func TestRun_EndToEndWithMissingInterval(t *testing.T) {
	e := newEnv(t, 1)

	res, err := Run(t.Context(), e.config(func(c *Config) { c.Checksum = true }))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, res.Outcome.Status)
	assert.Equal(t, ExitSuccess, res.ExitCode())
	assert.Equal(t, 3, res.ManifestEntries)
	assert.Equal(t, []string{e.entries[0].Local, e.entries[2].Local}, res.Files)

	want := e.expected(0, 2)
	assert.Equal(t, want, e.output(t))

	s := res.Metrics
	assert.Equal(t, int64(2), s.FilesDownloaded)
	assert.Equal(t, int64(1), s.FilesFailedPermanent)
	assert.Equal(t, int64(1), s.FilesFailed())
	assert.Equal(t, int64(2), s.FilesProcessed)
	assert.Equal(t, int64(4), s.PacketsProcessed)
	assert.Equal(t, int64(len(want)), s.OutputBytesWritten)
	assert.Equal(t, int64(len(want)), res.Parse.OutputSize)
	assert.Equal(t, 1, e.store.Calls(e.entries[1].Remote), "permanent failure is not retried")

	h := blake3.New()
	_, _ = h.Write(want)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), res.Checksum)

	snap, status := progress.NewStore(e.fs).Load(progress.Path(testOutput))
	require.Equal(t, progress.LoadOK, status)
	assert.True(t, snap.Completed)
	assert.Equal(t, int64(1), snap.FilesFailed)
	assert.Equal(t, int64(len(want)), snap.OutputBytesWritten)
	assert.Equal(t, res.Files, snap.ProcessedFiles)

	assert.Equal(t, time.Second, res.Duration)
}

func TestRun_NoInput(t *testing.T) {
	e := newEnv(t, 0, 1, 2)

	res, err := Run(t.Context(), e.config())
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeNoInput, res.Outcome.Status)
	assert.Equal(t, ExitFailure, res.ExitCode())
	exists, _ := afero.Exists(e.fs, testOutput)
	assert.False(t, exists, "output must not be created without input")
	assert.Equal(t, int64(3), res.Metrics.FilesFailedPermanent)
}

func TestRun_AlreadyComplete(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, progress.NewStore(e.fs).Save(progress.Path(testOutput), types.ProgressSnapshot{Completed: true}))

	res, err := Run(t.Context(), e.config(func(c *Config) { c.Resume = true }))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeAlreadyComplete, res.Outcome.Status)
	assert.Equal(t, ExitSuccess, res.ExitCode())
	assert.Zero(t, e.store.TotalCalls())
}

func TestRun_CompletedSnapshotIgnoredWithoutResume(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, progress.NewStore(e.fs).Save(progress.Path(testOutput), types.ProgressSnapshot{Completed: true}))

	var logs bytes.Buffer
	res, err := Run(t.Context(), e.config(func(c *Config) {
		c.Logger = log.NewPlain(log.Options{Output: &logs})
	}))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, res.Outcome.Status)
	assert.False(t, res.RunMeta.Resumed)
	assert.Equal(t, e.expected(0, 1, 2), e.output(t))
	assert.Contains(t, logs.String(), "progress snapshot exists, overwriting it")
}

func TestRun_NoSnapshotWarningOnFreshOutput(t *testing.T) {
	e := newEnv(t)

	var logs bytes.Buffer
	_, err := Run(t.Context(), e.config(func(c *Config) {
		c.Logger = log.NewPlain(log.Options{Output: &logs})
	}))
	require.NoError(t, err)
	assert.NotContains(t, logs.String(), "progress snapshot exists")
}

func TestRun_InterruptedBeforeStart(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := Run(ctx, e.config())
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeInterrupted, res.Outcome.Status)
	assert.Equal(t, ExitInterrupted, res.ExitCode())
}

func TestRun_ResumeAfterInterruptionWritesEachFileOnce(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	first, err := Run(ctx, e.config(func(c *Config) {
		c.CheckpointEvery = 1
		c.OnFile = func(r demux.FileResult) {
			if r.Index == 0 {
				cancel()
			}
		}
	}))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeInterrupted, first.Outcome.Status)
	assert.Equal(t, e.expected(0), e.output(t))

	callsBefore := e.store.TotalCalls()
	second, err := Run(t.Context(), e.config(func(c *Config) {
		c.RunID = "run-resume"
		c.Resume = true
	}))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, second.Outcome.Status)
	assert.True(t, second.RunMeta.Resumed)
	assert.Equal(t, e.expected(0, 1, 2), e.output(t))
	assert.Equal(t, callsBefore, e.store.TotalCalls(), "resumed run fetches nothing already on disk")
	assert.Equal(t, int64(6), second.Metrics.PacketsProcessed)
	assert.Equal(t, int64(3), second.Metrics.FilesProcessed)
}

func TestRun_ResumeWithNewLocalRoot(t *testing.T) {
	e := newEnv(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	first, err := Run(ctx, e.config(func(c *Config) {
		c.LocalRoot = "/scratch-a"
		c.CheckpointEvery = 1
		c.OnFile = func(r demux.FileResult) {
			if r.Index == 0 {
				cancel()
			}
		}
	}))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeInterrupted, first.Outcome.Status)
	require.NoError(t, e.fs.RemoveAll("/scratch-a"))

	second, err := Run(t.Context(), e.config(func(c *Config) {
		c.RunID = "run-resume"
		c.LocalRoot = "/scratch-b"
		c.Resume = true
	}))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, second.Outcome.Status)
	assert.True(t, second.RunMeta.Resumed)
	assert.Equal(t, e.expected(0, 1, 2), e.output(t), "parsed interval is not appended twice")
	assert.Equal(t, 1, e.store.Calls(e.entries[0].Remote), "parsed interval is not fetched again")
	assert.Equal(t, 2, e.store.Calls(e.entries[1].Remote))
	assert.Equal(t, 2, e.store.Calls(e.entries[2].Remote))
	assert.Equal(t, int64(6), second.Metrics.PacketsProcessed)
}

func TestRun_ResumeWithMissingOutputRebuilds(t *testing.T) {
	e := newEnv(t)
	// A prior run parsed and cleaned up entry 0, then the output was lost.
	require.NoError(t, progress.NewStore(e.fs).Save(progress.Path(testOutput), types.ProgressSnapshot{
		DownloadedFiles:    []string{e.entries[0].Local},
		FilesDownloaded:    1,
		ProcessedFiles:     []string{e.entries[0].Local},
		FilesProcessed:     1,
		PacketsProcessed:   2,
		OutputBytesWritten: int64(len(e.expected(0))),
	}))

	res, err := Run(t.Context(), e.config(func(c *Config) { c.Resume = true }))
	require.NoError(t, err)

	assert.Equal(t, types.OutcomeSuccess, res.Outcome.Status)
	assert.Equal(t, e.expected(0, 1, 2), e.output(t))
	assert.Equal(t, 1, e.store.Calls(e.entries[0].Remote), "vanished file is fetched again")
}

func TestRun_RecordsLedgerAndPublishes(t *testing.T) {
	e := newEnv(t, 2)
	l, err := ledger.NewWithFactory("tsrebuild", lode.NewMemoryFactory())
	require.NoError(t, err)
	capture := &captureAdapter{}

	res, err := Run(t.Context(), e.config(func(c *Config) {
		c.Ledger = l
		c.Adapter = capture
	}))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeSuccess, res.Outcome.Status)
	assert.Equal(t, int64(1), res.Metrics.LedgerWriteSuccess)

	entry, err := l.Latest(t.Context(), ledger.Filter{RunID: "run-test"})
	require.NoError(t, err)
	assert.Equal(t, "success", entry.Status)
	assert.Equal(t, testOutput, entry.Output)
	assert.Equal(t, int64(2), entry.FilesDownloaded)
	assert.Equal(t, int64(1), entry.FilesFailed)
	assert.Equal(t, int64(4), entry.PacketsProcessed)

	require.Len(t, capture.events, 1)
	ev := capture.events[0]
	assert.Equal(t, adapter.EventTypeRunCompleted, ev.EventType)
	assert.Equal(t, "run-test", ev.RunID)
	assert.Equal(t, "success", ev.Outcome)
	assert.Equal(t, int64(1000), ev.WindowStart)
	assert.Equal(t, int64(4), ev.PacketsProcessed)
}

func TestRun_PublishesInterruption(t *testing.T) {
	e := newEnv(t)
	capture := &captureAdapter{}
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	res, err := Run(ctx, e.config(func(c *Config) { c.Adapter = capture }))
	require.NoError(t, err)
	require.Equal(t, types.OutcomeInterrupted, res.Outcome.Status)
	require.Len(t, capture.events, 1)
	assert.Equal(t, "interrupted", capture.events[0].Outcome)
}

func TestRun_ObserversSeePhases(t *testing.T) {
	e := newEnv(t)
	var mu sync.Mutex
	var phases []Phase
	var totals []int
	fetched := 0

	_, err := Run(t.Context(), e.config(func(c *Config) {
		c.OnPhase = func(p Phase, total int) {
			phases = append(phases, p)
			totals = append(totals, total)
		}
		c.OnFetch = func(retrieval.Result) {
			mu.Lock()
			fetched++
			mu.Unlock()
		}
	}))
	require.NoError(t, err)
	assert.Equal(t, []Phase{PhaseRetrieval, PhaseParse}, phases)
	assert.Equal(t, []int{3, 3}, totals)
	assert.Equal(t, 3, fetched)
}

func TestRun_InvalidConfig(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "no store", mutate: func(c *Config) { c.Store = nil }},
		{name: "no output", mutate: func(c *Config) { c.Output = "" }},
		{name: "no local root", mutate: func(c *Config) { c.LocalRoot = "" }},
		{name: "no prefix", mutate: func(c *Config) { c.RemotePrefix = "" }},
		{name: "bad window", mutate: func(c *Config) { c.Window = types.TimeWindow{Start: 5, End: 5} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Run(t.Context(), e.config(tt.mutate))
			assert.Error(t, err)
		})
	}
}

func TestRun_GeneratesRunID(t *testing.T) {
	e := newEnv(t)
	res, err := Run(t.Context(), e.config(func(c *Config) { c.RunID = "" }))
	require.NoError(t, err)
	assert.Len(t, res.RunMeta.RunID, 36)
}
