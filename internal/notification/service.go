package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"

	"github.com/downloadnotifier/downloadnotifier/internal/logger"
)

var ErrServiceClosed = errors.New("notification service closed")

const (
	defaultWorkers         = 2
	defaultHistorySize     = 500
	defaultDeliveryTimeout = 30 * time.Second
)

// Config controls notifier delivery.
type Config struct {
	Workers         int
	HistorySize     int
	DeliveryTimeout time.Duration
}

// Service is the Sink used by the detection core. Status and log lines go to
// the application log and to host subscribers. Completions are additionally
// queued for external notifiers; a dispatcher goroutine feeds the queue to a
// bounded worker pool, so Complete never waits on a delivery.
type Service struct {
	logger  zerolog.Logger
	history *logger.RingBuffer[LogEntry]
	pool    *ants.Pool
	timeout time.Duration

	mu          sync.RWMutex
	notifiers   []Notifier
	subscribers []Subscriber
	closed      bool

	queueMu    sync.Mutex
	queue      []delivery
	wake       chan struct{}
	quit       chan struct{}
	dispatched chan struct{}

	inflight sync.WaitGroup
}

type delivery struct {
	notifier Notifier
	event    CompletionEvent
}

// NewService creates a notification service
func NewService(cfg Config, log zerolog.Logger) (*Service, error) {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	historySize := cfg.HistorySize
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	timeout := cfg.DeliveryTimeout
	if timeout <= 0 {
		timeout = defaultDeliveryTimeout
	}

	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}

	s := &Service{
		logger:     log.With().Str("component", "notification").Logger(),
		history:    logger.NewRingBuffer[LogEntry](historySize),
		pool:       pool,
		timeout:    timeout,
		wake:       make(chan struct{}, 1),
		quit:       make(chan struct{}),
		dispatched: make(chan struct{}),
	}
	go s.dispatchLoop()
	return s, nil
}

// AddNotifier registers an external completion target.
func (s *Service) AddNotifier(n Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifiers = append(s.notifiers, n)
	s.logger.Info().Str("type", string(n.Type())).Str("name", n.Name()).Msg("Registered notifier")
}

// Subscribe registers host callbacks. Callbacks run on the caller's goroutine
// and must not block.
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, sub)
}

// Status implements Sink.
func (s *Service) Status(message string) {
	s.logger.Debug().Str("status", message).Msg("Status")

	for _, sub := range s.subscriberList() {
		if sub.OnStatus != nil {
			sub.OnStatus(message)
		}
	}
}

// Log implements Sink.
func (s *Service) Log(message string, level Level) {
	switch level {
	case LevelError:
		s.logger.Error().Msg(message)
	case LevelDownload:
		s.logger.Info().Str("level_tag", string(level)).Msg(message)
	default:
		s.logger.Info().Msg(message)
	}

	entry := LogEntry{
		Message: message,
		Level:   level,
		Time:    time.Now().Format(time.RFC3339),
	}
	s.history.Push(entry)

	for _, sub := range s.subscriberList() {
		if sub.OnLog != nil {
			sub.OnLog(entry)
		}
	}
}

// Complete implements Sink.
func (s *Service) Complete(event CompletionEvent) {
	s.logger.Info().
		Str("path", event.Path).
		Int64("size", event.Size).
		Str("contentType", event.ContentType).
		Msg("Download complete")

	for _, sub := range s.subscriberList() {
		if sub.OnComplete != nil {
			sub.OnComplete(event)
		}
	}

	// Held while queueing so Close cannot start waiting before inflight
	// counts these deliveries. Queueing never blocks.
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || len(s.notifiers) == 0 {
		return
	}

	s.queueMu.Lock()
	for _, n := range s.notifiers {
		s.inflight.Add(1)
		s.queue = append(s.queue, delivery{notifier: n, event: event})
	}
	s.queueMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Recent returns the buffered activity log, oldest first.
func (s *Service) Recent() []LogEntry {
	return s.history.GetAll()
}

// Close waits for in-flight deliveries and releases the worker pool.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	close(s.quit)
	<-s.dispatched
	s.pool.Release()
}

// dispatchLoop hands queued deliveries to the pool in order. Submit blocks
// while every worker is busy, which only holds up this goroutine.
func (s *Service) dispatchLoop() {
	defer close(s.dispatched)

	for {
		select {
		case <-s.quit:
			return
		case <-s.wake:
		}

		for {
			s.queueMu.Lock()
			batch := s.queue
			s.queue = nil
			s.queueMu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, d := range batch {
				if err := s.dispatch(d.notifier, d.event); err != nil {
					s.logger.Warn().Err(err).Str("notifier", d.notifier.Name()).Msg("Failed to queue notification")
				}
			}
		}
	}
}

// dispatch runs one delivery on the pool. The caller has already counted it
// in inflight.
func (s *Service) dispatch(n Notifier, event CompletionEvent) error {
	err := s.pool.Submit(func() {
		defer s.inflight.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if err := n.OnComplete(ctx, event); err != nil {
			s.logger.Warn().Err(err).
				Str("notifier", n.Name()).
				Str("path", event.Path).
				Msg("Failed to send notification")
			return
		}
		s.logger.Debug().Str("notifier", n.Name()).Str("path", event.Path).Msg("Notification sent")
	})
	if err != nil {
		s.inflight.Done()
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrServiceClosed
		}
		return err
	}
	return nil
}

func (s *Service) subscriberList() []Subscriber {
	s.mu.RLock()
	defer s.mu.RUnlock()
	subs := make([]Subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	return subs
}
