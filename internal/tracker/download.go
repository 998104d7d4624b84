package tracker

import (
	"time"
)

// State is the lifecycle position of a tracked download.
type State int

const (
	Pending State = iota
	Completed
	Abandoned
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Download is one file under observation.
type Download struct {
	Path      string
	SourceURL string

	FirstSeenAt time.Time
	// ExpectedSize is resolved once at enqueue; 0 means unknown.
	ExpectedSize int64

	LastObservedSize    int64
	LastObservedModTime time.Time

	State State

	overshootLogged bool
}

// HasExpectedSize reports whether an expected size was resolved.
func (d Download) HasExpectedSize() bool {
	return d.ExpectedSize > 0
}
