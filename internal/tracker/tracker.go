// Package tracker decides when an in-flight download has finished. Files are
// queued on creation and re-examined by a single worker until they either
// match their expected size, stop changing, or disappear.
package tracker

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/downloadnotifier/downloadnotifier/internal/classifier"
	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/progress"
	"github.com/downloadnotifier/downloadnotifier/internal/resolver"
)

// SizeResolver estimates the final size of a file at enqueue time.
type SizeResolver interface {
	Resolve(ctx context.Context, req resolver.Request) (resolver.Result, bool)
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithFs(fs afero.Fs) Option {
	return func(t *Tracker) { t.fs = fs }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(t *Tracker) { t.logger = logger.With().Str("component", "tracker").Logger() }
}

func WithClassifier(c *classifier.Classifier) Option {
	return func(t *Tracker) { t.classifier = c }
}

func WithProgress(p *progress.Manager) Option {
	return func(t *Tracker) { t.progress = p }
}

// WithSessionID stamps completion events with the monitoring session.
func WithSessionID(id string) Option {
	return func(t *Tracker) { t.sessionID = id }
}

// Tracker owns the pending queue of one monitoring session.
type Tracker struct {
	cfg        Config
	resolver   SizeResolver
	sink       notification.Sink
	fs         afero.Fs
	logger     zerolog.Logger
	classifier *classifier.Classifier
	progress   *progress.Manager
	sessionID  string
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu        sync.Mutex
	queue     []string
	entries   map[string]*Download
	resolving map[string]struct{}
	running   bool
	stopped   bool
}

// New creates a tracker. res may be nil, in which case every file is
// treated as having an unknown expected size.
func New(cfg Config, res SizeResolver, sink notification.Sink, opts ...Option) *Tracker {
	if sink == nil {
		sink = notification.Discard
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		cfg:        cfg.withDefaults(),
		resolver:   res,
		sink:       sink,
		fs:         afero.NewOsFs(),
		logger:     zerolog.Nop(),
		classifier: classifier.New(),
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
		entries:    make(map[string]*Download),
		resolving:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.progress == nil {
		t.progress = progress.NewManager(sink.Status, t.logger)
	}
	return t
}

// Config returns the tracker's tunables.
func (t *Tracker) Config() Config {
	return t.cfg
}

// Enqueue starts tracking path.
func (t *Tracker) Enqueue(path string) {
	t.EnqueueWithSource(path, "")
}

// EnqueueWithSource starts tracking path, using sourceURL as a hint for the
// expected size. Temporary files, paths already tracked and calls after Stop
// are ignored. The expected size is resolved on the caller's goroutine.
func (t *Tracker) EnqueueWithSource(path, sourceURL string) {
	path = filepath.Clean(path)
	name := filepath.Base(path)

	if t.classifier.IsTemporary(path) {
		t.sink.Status(fmt.Sprintf("Ignoring temporary file: %s", name))
		t.sink.Log(fmt.Sprintf("Ignored temporary file: %s", name), notification.LevelInfo)
		return
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	if _, ok := t.entries[path]; ok {
		t.mu.Unlock()
		t.logger.Debug().Str("path", path).Msg("Already tracking file")
		return
	}
	if _, ok := t.resolving[path]; ok {
		t.mu.Unlock()
		t.logger.Debug().Str("path", path).Msg("Already resolving file")
		return
	}
	t.resolving[path] = struct{}{}
	t.mu.Unlock()

	var expected int64
	if t.resolver != nil {
		if res, ok := t.resolver.Resolve(t.ctx, resolver.Request{Path: path, SourceURL: sourceURL}); ok {
			expected = res.Size
		}
	}

	d := &Download{
		Path:         path,
		SourceURL:    sourceURL,
		FirstSeenAt:  t.now(),
		ExpectedSize: expected,
		State:        Pending,
	}

	t.mu.Lock()
	delete(t.resolving, path)
	if t.stopped {
		t.mu.Unlock()
		return
	}

	t.entries[path] = d
	t.queue = append(t.queue, path)
	start := !t.running
	if start {
		t.running = true
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if expected > 0 {
		t.sink.Log(fmt.Sprintf("File added with expected size: %s (%s bytes)", name, humanize.Comma(expected)), notification.LevelInfo)
	} else {
		t.sink.Log(fmt.Sprintf("File added without size info: %s", name), notification.LevelInfo)
	}
	t.logger.Debug().Str("path", path).Int64("expectedSize", expected).Msg("Queued download")

	if start {
		go t.run()
	}
}

// Len returns the number of tracked downloads.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// IsTracking reports whether path is currently tracked.
func (t *Tracker) IsTracking(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[filepath.Clean(path)]
	return ok
}

// Snapshot returns copies of the tracked downloads in queue order. The entry
// under evaluation, if any, comes last.
func (t *Tracker) Snapshot() []Download {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Download, 0, len(t.entries))
	queued := make(map[string]bool, len(t.queue))
	for _, path := range t.queue {
		if d, ok := t.entries[path]; ok {
			out = append(out, *d)
			queued[path] = true
		}
	}

	var rest []string
	for path := range t.entries {
		if !queued[path] {
			rest = append(rest, path)
		}
	}
	slices.Sort(rest)
	for _, path := range rest {
		out = append(out, *t.entries[path])
	}
	return out
}

// Stop halts the worker and discards every tracked entry without emitting
// completion events. It returns the number of entries dropped. A stopped
// tracker ignores further Enqueue calls.
func (t *Tracker) Stop() int {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return 0
	}
	t.stopped = true
	close(t.stopCh)
	t.cancel()
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(t.cfg.StopTimeout):
		t.logger.Warn().Dur("timeout", t.cfg.StopTimeout).Msg("Worker did not stop in time")
	}

	t.mu.Lock()
	dropped := len(t.entries)
	t.entries = make(map[string]*Download)
	t.queue = nil
	t.mu.Unlock()

	t.progress.Reset()

	if dropped > 0 {
		t.logger.Info().Int("dropped", dropped).Msg("Discarded pending downloads")
	}
	return dropped
}

func (t *Tracker) run() {
	defer t.wg.Done()

	for {
		t.mu.Lock()
		if t.stopped || len(t.queue) == 0 {
			t.running = false
			t.mu.Unlock()
			return
		}
		path := t.queue[0]
		t.queue = t.queue[1:]
		entry, ok := t.entries[path]
		if !ok {
			t.mu.Unlock()
			continue
		}
		d := *entry
		t.mu.Unlock()

		res := t.evaluate(&d)

		t.mu.Lock()
		entry.LastObservedSize = d.LastObservedSize
		entry.LastObservedModTime = d.LastObservedModTime
		entry.overshootLogged = d.overshootLogged
		entry.State = res.state

		// A verdict reached before the stop was seen is still reported; the
		// loop exits at the next pop.
		if res.state != Pending {
			delete(t.entries, path)
			t.mu.Unlock()
			t.finish(d, res)
			continue
		}

		if t.stopped {
			t.running = false
			t.mu.Unlock()
			return
		}
		t.queue = append(t.queue, path)
		t.mu.Unlock()

		if !t.wait(t.cfg.RequeueDelay) {
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			return
		}
	}
}

func (t *Tracker) finish(d Download, res outcome) {
	name := filepath.Base(d.Path)
	t.progress.Finish(d.Path)

	switch res.state {
	case Completed:
		t.sink.Status(fmt.Sprintf("Download complete: %s", name))
		t.sink.Log(fmt.Sprintf("Download complete: %s (%s bytes)", name, humanize.Comma(res.size)), notification.LevelDownload)
		t.sink.Complete(notification.CompletionEvent{
			Path:         d.Path,
			Name:         name,
			Size:         res.size,
			ExpectedSize: d.ExpectedSize,
			ContentType:  t.sniff(d.Path),
			SessionID:    t.sessionID,
			FirstSeenAt:  d.FirstSeenAt,
			CompletedAt:  t.now(),
		})
		t.logger.Info().Str("path", d.Path).Int64("size", res.size).Msg("Download completed")

	case Abandoned:
		level := res.level
		if level == "" {
			level = notification.LevelInfo
		}
		t.sink.Log(res.reason, level)
		t.logger.Debug().Str("path", d.Path).Str("reason", res.reason).Msg("Download abandoned")
	}
}

// wait sleeps for d and reports false when the tracker was stopped first.
func (t *Tracker) wait(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-t.stopCh:
			return false
		default:
			return true
		}
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-t.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
