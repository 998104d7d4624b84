package tasks

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/downloadnotifier/downloadnotifier/internal/progress"
	"github.com/downloadnotifier/downloadnotifier/internal/scheduler"
	"github.com/downloadnotifier/downloadnotifier/internal/tracker"
)

const SummaryTaskID = "in-flight-summary"

// maxListed caps the number of names spelled out in one summary line.
const maxListed = 5

// DownloadLister exposes the downloads currently being tracked.
type DownloadLister interface {
	Snapshot() []tracker.Download
}

// SummaryTask reports the in-flight downloads as a status line.
type SummaryTask struct {
	source DownloadLister
	status func(message string)
	logger zerolog.Logger
}

func NewSummaryTask(source DownloadLister, status func(message string), logger zerolog.Logger) *SummaryTask {
	return &SummaryTask{
		source: source,
		status: status,
		logger: logger.With().Str("task", SummaryTaskID).Logger(),
	}
}

// Run emits the summary. Nothing is reported while no download is tracked.
func (t *SummaryTask) Run(ctx context.Context) error {
	downloads := t.source.Snapshot()
	if len(downloads) == 0 {
		return nil
	}

	msg := Summary(downloads)
	t.logger.Debug().Int("count", len(downloads)).Msg(msg)
	t.status(msg)
	return nil
}

// Summary formats tracked downloads as
// "Tracking 2 download(s): a.iso (45.0%), b.bin (1.2 MB)".
func Summary(downloads []tracker.Download) string {
	parts := make([]string, 0, min(len(downloads), maxListed)+1)
	for i, d := range downloads {
		if i == maxListed {
			parts = append(parts, fmt.Sprintf("and %d more", len(downloads)-maxListed))
			break
		}

		name := filepath.Base(d.Path)
		if d.HasExpectedSize() {
			parts = append(parts, fmt.Sprintf("%s (%.1f%%)", name, progress.Percent(d.LastObservedSize, d.ExpectedSize)))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%s)", name, humanize.Bytes(uint64(max(d.LastObservedSize, 0)))))
		}
	}
	return fmt.Sprintf("Tracking %d download(s): %s", len(downloads), strings.Join(parts, ", "))
}

// RegisterSummaryTask schedules the summary every interval. A zero interval
// disables it.
func RegisterSummaryTask(
	sched *scheduler.Scheduler,
	source DownloadLister,
	status func(message string),
	interval time.Duration,
	logger zerolog.Logger,
) error {
	if interval <= 0 {
		return nil
	}

	task := NewSummaryTask(source, status, logger)
	return sched.RegisterTask(scheduler.TaskConfig{
		ID:          SummaryTaskID,
		Name:        "In-flight Summary",
		Description: "Reports the downloads still being tracked",
		Interval:    interval,
		Func:        task.Run,
	})
}
