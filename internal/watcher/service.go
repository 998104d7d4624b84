package watcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/downloadnotifier/downloadnotifier/internal/classifier"
	"github.com/downloadnotifier/downloadnotifier/internal/health"
	"github.com/downloadnotifier/downloadnotifier/internal/notification"
	"github.com/downloadnotifier/downloadnotifier/internal/scheduler"
	"github.com/downloadnotifier/downloadnotifier/internal/scheduler/tasks"
	"github.com/downloadnotifier/downloadnotifier/internal/tracker"
)

var (
	ErrNoValidDirectories = errors.New("no valid directories to monitor")
	ErrAlreadyRunning     = errors.New("monitoring is already running")
	ErrNotRunning         = errors.New("monitoring is not running")
)

// Options configures monitoring sessions.
type Options struct {
	Tracker         tracker.Config
	Recursive       bool
	SummaryInterval time.Duration

	// Resolver may be nil, in which case every size is unknown.
	Resolver   tracker.SizeResolver
	Classifier *classifier.Classifier
	Fs         afero.Fs
}

// Service runs monitoring sessions. Each Start creates a fresh tracker,
// watcher and scheduler; Stop tears all of them down and forgets every
// pending download.
type Service struct {
	opts    Options
	sink    notification.Sink
	logger  zerolog.Logger
	checker *health.FilesystemChecker

	// stopMu serializes Stop so a second caller returns only after teardown.
	stopMu sync.Mutex

	mu        sync.Mutex
	running   bool
	sessionID string
	paths     []string
	watcher   *Watcher
	scheduler *scheduler.Scheduler
	tracker   *tracker.Tracker
	handler   *sessionHandler
	done      chan struct{}
}

// NewService creates a watcher service.
func NewService(opts Options, sink notification.Sink, logger zerolog.Logger) *Service {
	if sink == nil {
		sink = notification.Discard
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Classifier == nil {
		opts.Classifier = classifier.New()
	}
	return &Service{
		opts:    opts,
		sink:    sink,
		logger:  logger.With().Str("component", "watcher-service").Logger(),
		checker: health.NewFilesystemChecker(),
	}
}

// Start begins monitoring paths. Invalid directories are skipped with an
// error log; if none is usable ErrNoValidDirectories is returned. The
// session also ends when ctx is cancelled.
func (s *Service) Start(ctx context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	valid, invalid := s.checker.CheckFolders(paths)
	for _, r := range invalid {
		s.logger.Error().Err(r.Err).Str("path", r.Path).Msg("Skipping directory")
		s.sink.Log(fmt.Sprintf("Skipping %s: %v", r.Path, r.Err), notification.LevelError)
	}
	if len(valid) == 0 {
		s.sink.Log("No valid directories to monitor", notification.LevelError)
		return ErrNoValidDirectories
	}

	sessionID := uuid.NewString()
	logger := s.logger.With().Str("session", sessionID).Logger()

	tr := tracker.New(s.opts.Tracker, s.opts.Resolver, s.sink,
		tracker.WithFs(s.opts.Fs),
		tracker.WithLogger(logger),
		tracker.WithClassifier(s.opts.Classifier),
		tracker.WithSessionID(sessionID),
	)

	cfg := DefaultConfig()
	cfg.Recursive = s.opts.Recursive
	w, err := New(cfg, logger)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	handler := newSessionHandler(tr, logger)
	w.SetHandler(handler)

	var watched []string
	for _, p := range valid {
		if err := w.AddPath(p); err != nil {
			logger.Error().Err(err).Str("path", p).Msg("Failed to watch directory")
			s.sink.Log(fmt.Sprintf("Cannot watch %s: %v", p, err), notification.LevelError)
			continue
		}
		watched = append(watched, p)
	}
	if len(watched) == 0 {
		_ = w.Stop()
		handler.close()
		s.sink.Log("No valid directories to monitor", notification.LevelError)
		return ErrNoValidDirectories
	}

	sched, err := scheduler.New(logger)
	if err != nil {
		_ = w.Stop()
		handler.close()
		return err
	}
	if err := tasks.RegisterSummaryTask(sched, tr, s.sink.Status, s.opts.SummaryInterval, logger); err != nil {
		_ = w.Stop()
		handler.close()
		_ = sched.Stop()
		return fmt.Errorf("register summary task: %w", err)
	}

	w.Start()
	sched.Start()
	for _, task := range sched.ListTasks() {
		logger.Debug().Str("task", task.ID).Dur("interval", task.Interval).Msg("Scheduled task")
	}

	s.running = true
	s.sessionID = sessionID
	s.paths = watched
	s.watcher = w
	s.scheduler = sched
	s.tracker = tr
	s.handler = handler
	s.done = make(chan struct{})

	go s.stopOnCancel(ctx, s.done)

	logger.Info().Strs("paths", watched).Msg("Monitoring started")
	s.sink.Status(fmt.Sprintf("Monitoring %d folder(s)", len(watched)))
	s.sink.Log(fmt.Sprintf("Monitoring started: %s", strings.Join(watched, ", ")), notification.LevelInfo)
	return nil
}

func (s *Service) stopOnCancel(ctx context.Context, done <-chan struct{}) {
	select {
	case <-ctx.Done():
		if err := s.Stop(); err != nil {
			s.logger.Warn().Err(err).Msg("Error stopping monitoring")
		}
	case <-done:
	}
}

// Stop ends the current session. Pending downloads are dropped without
// completion events. Stopping an idle service is a no-op.
func (s *Service) Stop() error {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	w, sched, tr, handler := s.watcher, s.scheduler, s.tracker, s.handler
	s.running = false
	s.watcher, s.scheduler, s.tracker, s.handler = nil, nil, nil, nil
	s.paths = nil
	close(s.done)
	s.mu.Unlock()

	var errs []error
	if err := w.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop watcher: %w", err))
	}
	if err := sched.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}

	dropped := tr.Stop()
	handler.close()

	s.logger.Info().Int("dropped", dropped).Msg("Monitoring stopped")
	s.sink.Status("Monitoring stopped.")
	s.sink.Log("Monitoring stopped.", notification.LevelInfo)

	return errors.Join(errs...)
}

// Track queues path in the running session, using sourceURL to help
// resolve its expected size.
func (s *Service) Track(path, sourceURL string) error {
	s.mu.Lock()
	tr := s.tracker
	s.mu.Unlock()

	if tr == nil {
		return ErrNotRunning
	}
	tr.EnqueueWithSource(path, sourceURL)
	return nil
}

// Summarize reports the in-flight downloads now. The periodic summary job
// runs early when it is scheduled; otherwise the summary is emitted inline.
func (s *Service) Summarize() error {
	s.mu.Lock()
	sched, tr := s.scheduler, s.tracker
	s.mu.Unlock()

	if sched == nil {
		return ErrNotRunning
	}
	if _, err := sched.GetTask(tasks.SummaryTaskID); err == nil {
		return sched.RunNow(tasks.SummaryTaskID)
	}
	return tasks.NewSummaryTask(tr, s.sink.Status, s.logger).Run(context.Background())
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Paths returns the directories of the running session.
func (s *Service) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paths...)
}

// SessionID returns the id of the running session, or of the last one.
func (s *Service) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Tracker returns the running session's tracker, or nil.
func (s *Service) Tracker() *tracker.Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker
}

// sessionHandler feeds watcher notifications into one session's tracker.
// Enqueue may block on size resolution, so a single dispatcher goroutine
// drains an unbounded FIFO off the event goroutine, keeping event order.
type sessionHandler struct {
	tracker *tracker.Tracker
	logger  zerolog.Logger

	mu      sync.Mutex
	pending []string
	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
}

func newSessionHandler(tr *tracker.Tracker, logger zerolog.Logger) *sessionHandler {
	h := &sessionHandler{
		tracker: tr,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go h.dispatchLoop()
	return h
}

func (h *sessionHandler) OnCreated(path string) {
	h.enqueue(path)
}

func (h *sessionHandler) OnMoved(src, dst string) {
	h.logger.Debug().Str("from", src).Str("to", dst).Msg("Queueing move destination")
	h.enqueue(dst)
}

func (h *sessionHandler) enqueue(path string) {
	h.mu.Lock()
	h.pending = append(h.pending, path)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
}

func (h *sessionHandler) dispatchLoop() {
	defer close(h.done)

	for {
		select {
		case <-h.quit:
			return
		case <-h.wake:
		}

		for {
			h.mu.Lock()
			batch := h.pending
			h.pending = nil
			h.mu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, path := range batch {
				select {
				case <-h.quit:
					return
				default:
				}
				h.tracker.Enqueue(path)
			}
		}
	}
}

// close stops dispatching and waits for an in-progress Enqueue to return.
// Paths still pending are dropped.
func (h *sessionHandler) close() {
	close(h.quit)
	<-h.done
}
