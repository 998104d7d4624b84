// Package mock provides recording notification doubles for tests and dry runs.
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/downloadnotifier/downloadnotifier/internal/notification/types"
)

// NotificationRecord stores a delivered completion.
type NotificationRecord struct {
	ID     int64                 `json:"id"`
	Event  types.CompletionEvent `json:"event"`
	SentAt time.Time             `json:"sentAt"`
}

// Notifier is a mock notification provider.
// It logs every completion and keeps the most recent ones in memory.
type Notifier struct {
	name   string
	logger zerolog.Logger
	err    error

	mu         sync.RWMutex
	records    []NotificationRecord
	nextID     int64
	maxRecords int
}

// New creates a new mock notifier
func New(name string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		name:       name,
		logger:     logger.With().Str("notifier", "mock").Str("name", name).Logger(),
		records:    make([]NotificationRecord, 0),
		nextID:     1,
		maxRecords: 100,
	}
}

// FailWith makes subsequent deliveries return err.
func (n *Notifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

func (n *Notifier) Type() types.NotifierType {
	return types.NotifierMock
}

func (n *Notifier) Name() string {
	return n.name
}

func (n *Notifier) OnComplete(_ context.Context, event types.CompletionEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.err != nil {
		return n.err
	}

	n.records = append(n.records, NotificationRecord{
		ID:     n.nextID,
		Event:  event,
		SentAt: time.Now(),
	})
	n.nextID++
	if len(n.records) > n.maxRecords {
		n.records = n.records[len(n.records)-n.maxRecords:]
	}

	n.logger.Info().Str("path", event.Path).Int64("size", event.Size).Msg("Mock notification sent")
	return nil
}

// Records returns delivered completions, oldest first.
func (n *Notifier) Records() []NotificationRecord {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]NotificationRecord, len(n.records))
	copy(out, n.records)
	return out
}
