package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

// TaskFunc is the function signature for scheduled tasks.
type TaskFunc func(ctx context.Context) error

// TaskConfig contains configuration for a scheduled task. Interval takes
// precedence over Cron when both are set.
type TaskConfig struct {
	ID          string
	Name        string
	Description string
	Interval    time.Duration
	Cron        string // Cron expression: "0 0 * * *" for midnight daily
	Func        TaskFunc
	RunOnStart  bool
}

// TaskInfo describes a registered task.
type TaskInfo struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Interval    time.Duration `json:"interval,omitempty"`
	Cron        string        `json:"cron,omitempty"`
	LastRun     *time.Time    `json:"lastRun,omitempty"`
	NextRun     *time.Time    `json:"nextRun,omitempty"`
	Running     bool          `json:"running"`
}

type taskEntry struct {
	config  TaskConfig
	job     gocron.Job
	lastRun *time.Time
	running bool
}

// Scheduler manages background periodic tasks.
type Scheduler struct {
	gocron gocron.Scheduler
	logger zerolog.Logger
	tasks  map[string]*taskEntry
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler.
func New(logger zerolog.Logger) (*Scheduler, error) {
	gs, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		gocron: gs,
		logger: logger.With().Str("component", "scheduler").Logger(),
		tasks:  make(map[string]*taskEntry),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// RegisterTask registers a new scheduled task.
func (s *Scheduler) RegisterTask(config TaskConfig) error {
	if config.Func == nil {
		return fmt.Errorf("task %q has no function", config.ID)
	}

	var definition gocron.JobDefinition
	switch {
	case config.Interval > 0:
		definition = gocron.DurationJob(config.Interval)
	case config.Cron != "":
		definition = gocron.CronJob(config.Cron, false)
	default:
		return fmt.Errorf("task %q needs an interval or cron expression", config.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[config.ID]; exists {
		return fmt.Errorf("task with ID %q already registered", config.ID)
	}

	job, err := s.gocron.NewJob(
		definition,
		gocron.NewTask(func() { s.executeTask(config.ID) }),
		gocron.WithName(config.Name),
		gocron.WithTags(config.ID),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create job for task %q: %w", config.ID, err)
	}

	s.tasks[config.ID] = &taskEntry{
		config: config,
		job:    job,
	}

	s.logger.Debug().
		Str("id", config.ID).
		Str("name", config.Name).
		Dur("interval", config.Interval).
		Str("cron", config.Cron).
		Msg("Registered task")

	return nil
}

// executeTask runs a task and updates its state.
func (s *Scheduler) executeTask(taskID string) {
	s.mu.Lock()
	entry, exists := s.tasks[taskID]
	if !exists || entry.running {
		s.mu.Unlock()
		return
	}
	entry.running = true
	s.mu.Unlock()

	startTime := time.Now()
	err := entry.config.Func(s.ctx)

	s.mu.Lock()
	entry.running = false
	entry.lastRun = &startTime
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("id", taskID).
			Str("name", entry.config.Name).
			Dur("duration", time.Since(startTime)).
			Msg("Task failed")
		return
	}
	s.logger.Trace().
		Str("id", taskID).
		Dur("duration", time.Since(startTime)).
		Msg("Task completed")
}

// Start starts the scheduler and runs any tasks configured with RunOnStart.
func (s *Scheduler) Start() {
	s.logger.Debug().Msg("Starting scheduler")
	s.gocron.Start()

	s.mu.RLock()
	var startup []string
	for id, entry := range s.tasks {
		if entry.config.RunOnStart {
			startup = append(startup, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range startup {
		go s.executeTask(id)
	}
}

// Stop cancels running tasks and shuts the scheduler down.
func (s *Scheduler) Stop() error {
	s.logger.Debug().Msg("Stopping scheduler")
	s.cancel()
	return s.gocron.Shutdown()
}

// RunNow manually triggers a task to run immediately.
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	entry, exists := s.tasks[taskID]
	running := exists && entry.running
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if running {
		return fmt.Errorf("task %q is already running", taskID)
	}

	go s.executeTask(taskID)
	return nil
}

// ListTasks returns information about all registered tasks, ordered by ID.
func (s *Scheduler) ListTasks() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tasks := make([]TaskInfo, 0, len(s.tasks))
	for _, entry := range s.tasks {
		tasks = append(tasks, entry.info())
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks
}

// GetTask returns information about a specific task.
func (s *Scheduler) GetTask(taskID string) (*TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, exists := s.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	info := entry.info()
	return &info, nil
}

func (e *taskEntry) info() TaskInfo {
	info := TaskInfo{
		ID:          e.config.ID,
		Name:        e.config.Name,
		Description: e.config.Description,
		Interval:    e.config.Interval,
		Cron:        e.config.Cron,
		LastRun:     e.lastRun,
		Running:     e.running,
	}
	if nextRun, err := e.job.NextRun(); err == nil && !nextRun.IsZero() {
		info.NextRun = &nextRun
	}
	return info
}
