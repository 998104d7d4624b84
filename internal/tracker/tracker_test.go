package tracker

import (
	"bytes"
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/notification/mock"
	"github.com/downloadnotifier/downloadnotifier/internal/resolver"
)

type sizes map[string]int64

func (s sizes) Resolve(_ context.Context, req resolver.Request) (resolver.Result, bool) {
	n, ok := s[req.Path]
	return resolver.Result{Size: n, Strategy: "test"}, ok
}

type slowResolver struct {
	delay time.Duration
	calls atomic.Int32
}

func (r *slowResolver) Resolve(context.Context, resolver.Request) (resolver.Result, bool) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	return resolver.Result{}, false
}

// failingFs lets a number of Stat calls succeed and then fails with err.
type failingFs struct {
	afero.Fs
	successes atomic.Int32
	err       error
}

func (f *failingFs) Stat(name string) (os.FileInfo, error) {
	if f.successes.Add(-1) < 0 {
		return nil, &os.PathError{Op: "stat", Path: name, Err: f.err}
	}
	return f.Fs.Stat(name)
}

func testConfig() Config {
	return Config{
		CheckInterval:     20 * time.Millisecond,
		StableChecks:      3,
		SettleTime:        100 * time.Millisecond,
		ConfirmDelay:      10 * time.Millisecond,
		RequeueDelay:      10 * time.Millisecond,
		ChatClientGrace:   150 * time.Millisecond,
		StopTimeout:       time.Second,
		MinToleranceBytes: 1024,
		ToleranceRatio:    0.001,
	}
}

func newTestTracker(t *testing.T, cfg Config, res SizeResolver, fs afero.Fs) (*Tracker, *mock.Sink) {
	t.Helper()
	sink := mock.NewSink()
	tr := New(cfg, res, sink, WithFs(fs), WithLogger(zerolog.Nop()), WithSessionID("session-1"))
	t.Cleanup(func() { tr.Stop() })
	return tr, sink
}

func writeFile(t *testing.T, fs afero.Fs, path string, size int, age time.Duration) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, path, make([]byte, size), 0o644))
	if age > 0 {
		past := time.Now().Add(-age)
		require.NoError(t, fs.Chtimes(path, past, past))
	}
}

func waitComplete(t *testing.T, sink *mock.Sink, timeout time.Duration) notification.CompletionEvent {
	t.Helper()
	select {
	case ev := <-sink.Completed():
		return ev
	case <-time.After(timeout):
		t.Fatal("timed out waiting for completion")
	}
	return notification.CompletionEvent{}
}

func TestConfig_Tolerance(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, int64(1024), cfg.Tolerance(0))
	assert.Equal(t, int64(1024), cfg.Tolerance(1_000_000))
	assert.Equal(t, int64(10_000), cfg.Tolerance(10_000_000))

	assert.True(t, cfg.WithinTolerance(1_001_024, 1_000_000))
	assert.True(t, cfg.WithinTolerance(998_976, 1_000_000))
	assert.False(t, cfg.WithinTolerance(1_001_025, 1_000_000))
	assert.False(t, cfg.WithinTolerance(998_975, 1_000_000))
}

func TestConfig_ToleranceBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinToleranceBytes = 1000

	assert.Equal(t, int64(1000), cfg.Tolerance(1_000_000))
	assert.True(t, cfg.WithinTolerance(1_001_000, 1_000_000))
	assert.True(t, cfg.WithinTolerance(999_000, 1_000_000))
	assert.False(t, cfg.WithinTolerance(1_001_001, 1_000_000))
	assert.False(t, cfg.WithinTolerance(998_999, 1_000_000))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "completed", Completed.String())
	assert.Equal(t, "abandoned", Abandoned.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestEnqueue_TemporaryFilesIgnored(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr, sink := newTestTracker(t, testConfig(), nil, fs)

	for _, p := range []string{"/dl/a.crdownload", "/dl/b.part", "/dl/.hidden", "/dl/temp_c.zip", "/dl/x_downloading.iso"} {
		writeFile(t, fs, p, 10, time.Minute)
		tr.Enqueue(p)
	}

	assert.Zero(t, tr.Len())
	assert.Len(t, sink.LogsContaining("Ignored temporary file"), 5)
	assert.Contains(t, sink.Statuses(), "Ignoring temporary file: a.crdownload")
}

func TestKnownSize_CompletesOnce(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/report.bin", 4096, 0)
	tr, sink := newTestTracker(t, testConfig(), sizes{"/dl/report.bin": 4096}, fs)

	start := time.Now()
	tr.Enqueue("/dl/report.bin")
	ev := waitComplete(t, sink, 2*time.Second)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "/dl/report.bin", ev.Path)
	assert.Equal(t, "report.bin", ev.Name)
	assert.Equal(t, int64(4096), ev.Size)
	assert.Equal(t, int64(4096), ev.ExpectedSize)
	assert.Equal(t, "session-1", ev.SessionID)

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.Completions(), 1)
	assert.Zero(t, tr.Len())
	assert.Len(t, sink.LogsContaining("File added with expected size: report.bin (4,096 bytes)"), 1)

	done := sink.LogsContaining("Download complete: report.bin")
	require.Len(t, done, 1)
	assert.Equal(t, notification.LevelDownload, done[0].Level)
}

func TestKnownSize_BelowToleranceReportsProgress(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/big.iso", 998_999, time.Minute)
	cfg := testConfig()
	cfg.MinToleranceBytes = 1000
	tr, sink := newTestTracker(t, cfg, sizes{"/dl/big.iso": 1_000_000}, fs)

	tr.Enqueue("/dl/big.iso")

	require.Eventually(t, func() bool {
		for _, s := range sink.Statuses() {
			if s == "Downloading: big.iso (99.9% - 998,999/1,000,000 bytes)" {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, sink.Completions())
	assert.Equal(t, 1, tr.Len())

	// Reaching the lower tolerance edge completes it.
	writeFile(t, fs, "/dl/big.iso", 999_000, 0)
	ev := waitComplete(t, sink, 2*time.Second)
	assert.Equal(t, int64(999_000), ev.Size)
}

func TestKnownSize_OvershootFallsBackToStability(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/video.mp4", 10_000, time.Minute)
	tr, sink := newTestTracker(t, testConfig(), sizes{"/dl/video.mp4": 2_000}, fs)

	tr.Enqueue("/dl/video.mp4")
	ev := waitComplete(t, sink, 2*time.Second)

	assert.Equal(t, int64(10_000), ev.Size)
	assert.Equal(t, int64(2_000), ev.ExpectedSize)
	assert.Len(t, sink.LogsContaining("exceeds expected"), 1)
}

func TestUnknownSize_GrowingFileCompletesAfterSettle(t *testing.T) {
	fs := afero.NewMemMapFs()
	const path = "/dl/growing.bin"
	writeFile(t, fs, path, 100, 0)

	cfg := testConfig()
	tr, sink := newTestTracker(t, cfg, nil, fs)
	tr.Enqueue(path)

	for i := 2; i <= 10; i++ {
		time.Sleep(15 * time.Millisecond)
		writeFile(t, fs, path, i*100, 0)
		assert.Empty(t, sink.Completions(), "completed mid-growth at increment %d", i)
	}

	info, err := fs.Stat(path)
	require.NoError(t, err)
	lastWrite := info.ModTime()

	ev := waitComplete(t, sink, 3*time.Second)
	assert.Equal(t, int64(1000), ev.Size)
	assert.Zero(t, ev.ExpectedSize)
	assert.GreaterOrEqual(t, ev.CompletedAt.Sub(lastWrite), cfg.SettleTime)
	assert.Len(t, sink.Completions(), 1)
}

func TestUnknownSize_EmptyFileNeverCompletes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/empty.dat", 0, time.Minute)
	tr, sink := newTestTracker(t, testConfig(), nil, fs)

	tr.Enqueue("/dl/empty.dat")
	time.Sleep(300 * time.Millisecond)

	assert.Empty(t, sink.Completions())
	assert.Equal(t, 1, tr.Len())
	assert.NotEmpty(t, sink.LogsContaining("Still changing: empty.dat"))
}

func TestUnknownSize_ChatClientGrace(t *testing.T) {
	fs := afero.NewMemMapFs()
	const path = "/dl/AbCdEf123456"
	writeFile(t, fs, path, 2048, time.Minute)
	cfg := testConfig()
	tr, sink := newTestTracker(t, cfg, nil, fs)

	tr.Enqueue(path)
	ev := waitComplete(t, sink, 2*time.Second)

	assert.GreaterOrEqual(t, ev.CompletedAt.Sub(ev.FirstSeenAt), cfg.ChatClientGrace)
	assert.Equal(t, int64(2048), ev.Size)
}

func TestEnqueue_Idempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/a.bin", 100, time.Minute)
	tr, sink := newTestTracker(t, testConfig(), nil, fs)

	tr.Enqueue("/dl/a.bin")
	tr.Enqueue("/dl/./a.bin")

	assert.LessOrEqual(t, tr.Len(), 1)
	waitComplete(t, sink, 2*time.Second)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sink.Completions(), 1)
	assert.Len(t, sink.LogsContaining("File added"), 1)
}

func TestEnqueue_ConcurrentDuplicatesWhileResolving(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/a.bin", 100, 0)
	res := &slowResolver{delay: 50 * time.Millisecond}
	cfg := testConfig()
	cfg.SettleTime = time.Hour
	tr, sink := newTestTracker(t, cfg, res, fs)

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Enqueue("/dl/a.bin")
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), res.calls.Load())
	assert.Equal(t, 1, tr.Len())
	assert.Len(t, sink.LogsContaining("File added without size info: a.bin"), 1)
}

func TestVanishedBeforeSnapshot_Abandoned(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr, sink := newTestTracker(t, testConfig(), nil, fs)

	tr.Enqueue("/dl/ghost.bin")

	require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	assert.Empty(t, sink.Completions())
	assert.Len(t, sink.LogsContaining("ghost.bin"), 2) // added + abandoned
	assert.Len(t, sink.LogsContaining("File no longer exists: ghost.bin"), 1)
}

func TestVanishedMidCheck(t *testing.T) {
	t.Run("after a snapshot completes with last size", func(t *testing.T) {
		base := afero.NewMemMapFs()
		writeFile(t, base, "/dl/moved.bin", 512, 0)
		fs := &failingFs{Fs: base, err: os.ErrNotExist}
		fs.successes.Store(2)
		tr, sink := newTestTracker(t, testConfig(), nil, fs)

		tr.Enqueue("/dl/moved.bin")
		ev := waitComplete(t, sink, 2*time.Second)
		assert.Equal(t, int64(512), ev.Size)
		assert.Zero(t, tr.Len())
	})

	t.Run("before any snapshot is abandoned", func(t *testing.T) {
		base := afero.NewMemMapFs()
		writeFile(t, base, "/dl/moved.bin", 512, 0)
		fs := &failingFs{Fs: base, err: os.ErrNotExist}
		fs.successes.Store(1)
		tr, sink := newTestTracker(t, testConfig(), nil, fs)

		tr.Enqueue("/dl/moved.bin")
		require.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		assert.Empty(t, sink.Completions())
		assert.Len(t, sink.LogsContaining("File no longer exists"), 1)
	})
}

func TestPermissionDenied_AbandonedWithError(t *testing.T) {
	fs := &failingFs{Fs: afero.NewMemMapFs(), err: os.ErrPermission}
	tr, sink := newTestTracker(t, testConfig(), nil, fs)

	tr.Enqueue("/dl/locked.bin")
	require.Eventually(t, func() bool { return len(sink.LogsContaining("Cannot read locked.bin")) == 1 }, time.Second, 5*time.Millisecond)

	logs := sink.LogsContaining("Cannot read locked.bin")
	assert.Equal(t, notification.LevelError, logs[0].Level)
	assert.Zero(t, tr.Len())
	assert.Empty(t, sink.Completions())
}

func TestEntryErrorsDoNotStopWorker(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/good.bin", 4096, 0)
	tr, sink := newTestTracker(t, testConfig(), sizes{"/dl/good.bin": 4096}, fs)

	tr.Enqueue("/dl/missing.bin")
	tr.Enqueue("/dl/good.bin")

	ev := waitComplete(t, sink, 2*time.Second)
	assert.Equal(t, "/dl/good.bin", ev.Path)
}

func TestStop_DropsPendingEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/a.bin", 100, 0)
	writeFile(t, fs, "/dl/b.bin", 100, 0)
	cfg := testConfig()
	cfg.SettleTime = time.Hour
	tr, sink := newTestTracker(t, cfg, nil, fs)

	tr.Enqueue("/dl/a.bin")
	tr.Enqueue("/dl/b.bin")
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	assert.Equal(t, 2, tr.Stop())
	assert.Less(t, time.Since(start), cfg.StopTimeout)
	assert.Zero(t, tr.Len())

	tr.Enqueue("/dl/a.bin")
	assert.Zero(t, tr.Len())
	assert.Zero(t, tr.Stop())
	assert.Empty(t, sink.Completions())
}

func TestStop_DuringConfirmationStillCompletes(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/report.bin", 4096, 0)
	cfg := testConfig()
	cfg.ConfirmDelay = 300 * time.Millisecond
	tr, sink := newTestTracker(t, cfg, sizes{"/dl/report.bin": 4096}, fs)

	tr.Enqueue("/dl/report.bin")
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, tr.Stop())

	completions := sink.Completions()
	require.Len(t, completions, 1)
	assert.Equal(t, int64(4096), completions[0].Size)
	assert.Zero(t, tr.Len())
}

func TestSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeFile(t, fs, "/dl/a.bin", 100, 0)
	writeFile(t, fs, "/dl/b.bin", 100, 0)
	cfg := testConfig()
	cfg.SettleTime = time.Hour
	tr, _ := newTestTracker(t, cfg, sizes{"/dl/b.bin": 5000}, fs)

	tr.Enqueue("/dl/a.bin")
	tr.Enqueue("/dl/b.bin")

	snap := tr.Snapshot()
	require.Len(t, snap, 2)

	byPath := map[string]Download{}
	for _, d := range snap {
		byPath[d.Path] = d
	}
	assert.False(t, byPath["/dl/a.bin"].HasExpectedSize())
	assert.Equal(t, int64(5000), byPath["/dl/b.bin"].ExpectedSize)
	assert.Equal(t, Pending, byPath["/dl/b.bin"].State)
	assert.True(t, tr.IsTracking("/dl/a.bin"))
}

func TestCompletion_ContentType(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := make([]byte, 2048)
	copy(data, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A})
	require.NoError(t, afero.WriteFile(fs, "/dl/image.png", data, 0o644))
	require.NoError(t, afero.WriteFile(fs, "/dl/plain.dat", bytes.Repeat([]byte("a"), 2048), 0o644))

	tr, sink := newTestTracker(t, testConfig(), sizes{"/dl/image.png": 2048, "/dl/plain.dat": 2048}, fs)

	tr.Enqueue("/dl/image.png")
	ev := waitComplete(t, sink, 2*time.Second)
	assert.Equal(t, "image/png", ev.ContentType)

	tr.Enqueue("/dl/plain.dat")
	ev = waitComplete(t, sink, 2*time.Second)
	assert.Empty(t, ev.ContentType)
}
