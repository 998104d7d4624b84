// Package progress tracks per-download byte progress and reports it as
// human-readable status text. Identical consecutive reports are suppressed so
// a slow download does not flood the status sink every poll.
package progress

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// StatusFunc receives status text.
type StatusFunc func(message string)

// Activity is the progress of one tracked download.
type Activity struct {
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Current   int64     `json:"current"`
	Expected  int64     `json:"expected"`
	Percent   float64   `json:"percent"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Manager tracks and reports progress for all in-flight downloads.
type Manager struct {
	status     StatusFunc
	activities map[string]*Activity
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewManager creates a new progress manager.
func NewManager(status StatusFunc, logger zerolog.Logger) *Manager {
	if status == nil {
		status = func(string) {}
	}
	return &Manager{
		status:     status,
		activities: make(map[string]*Activity),
		logger:     logger.With().Str("component", "progress").Logger(),
	}
}

// Percent returns current as a percentage of expected, rounded to one decimal.
func Percent(current, expected int64) float64 {
	if expected <= 0 {
		return 0
	}
	p := float64(current) / float64(expected) * 100
	return float64(int64(p*10+0.5)) / 10
}

// Message formats the status line for a download.
func Message(name string, current, expected int64) string {
	return fmt.Sprintf("Downloading: %s (%.1f%% - %s/%s bytes)",
		name, Percent(current, expected), humanize.Comma(current), humanize.Comma(expected))
}

// Update records the observed size of path and reports it when it changed.
// It returns true if a status line was emitted.
func (m *Manager) Update(path string, current, expected int64) bool {
	m.mu.Lock()
	now := time.Now()
	activity, exists := m.activities[path]
	if !exists {
		activity = &Activity{
			Path:      path,
			Name:      filepath.Base(path),
			StartedAt: now,
		}
		m.activities[path] = activity
	}

	percent := Percent(current, expected)
	if exists && activity.Current == current && activity.Expected == expected {
		m.mu.Unlock()
		return false
	}

	activity.Current = current
	activity.Expected = expected
	activity.Percent = percent
	activity.UpdatedAt = now
	msg := Message(activity.Name, current, expected)
	m.mu.Unlock()

	m.logger.Debug().
		Str("path", path).
		Int64("current", current).
		Int64("expected", expected).
		Float64("percent", percent).
		Msg("Progress")

	m.status(msg)
	return true
}

// Finish forgets path.
func (m *Manager) Finish(path string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.activities, path)
}

// Reset forgets every activity.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activities = make(map[string]*Activity)
}

// Get returns a copy of the activity for path.
func (m *Manager) Get(path string) (Activity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.activities[path]
	if !ok {
		return Activity{}, false
	}
	return *a, true
}

// All returns copies of all activities ordered by path.
func (m *Manager) All() []Activity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Activity, 0, len(m.activities))
	for _, a := range m.activities {
		result = append(result, *a)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}
