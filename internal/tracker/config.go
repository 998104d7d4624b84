package tracker

import (
	"time"
)

// Config holds every detection tunable. It is copied into the tracker at
// construction and never modified afterwards.
type Config struct {
	// CheckInterval spaces consecutive stability snapshots.
	CheckInterval time.Duration
	// StableChecks is the number of snapshots taken per stability pass.
	StableChecks int
	// SettleTime is how long a file must go unmodified before it can be
	// judged complete by the stability check.
	SettleTime time.Duration
	// ConfirmDelay separates the two reads that confirm a size match.
	ConfirmDelay time.Duration
	// RequeueDelay is the pause after an entry goes back to the queue tail.
	RequeueDelay time.Duration
	// ChatClientGrace delays stability checks for files that look like chat
	// client downloads, which may not have started writing yet.
	ChatClientGrace time.Duration
	// StopTimeout bounds how long Stop waits for the worker.
	StopTimeout time.Duration

	MinToleranceBytes int64
	ToleranceRatio    float64
}

// DefaultConfig returns the stock detection tunables.
func DefaultConfig() Config {
	return Config{
		CheckInterval:     2 * time.Second,
		StableChecks:      3,
		SettleTime:        2 * time.Second,
		ConfirmDelay:      time.Second,
		RequeueDelay:      2 * time.Second,
		ChatClientGrace:   5 * time.Second,
		StopTimeout:       5 * time.Second,
		MinToleranceBytes: 1024,
		ToleranceRatio:    0.001,
	}
}

// Tolerance is the largest deviation from expected still counted as a match.
func (c Config) Tolerance(expected int64) int64 {
	return max(c.MinToleranceBytes, int64(float64(expected)*c.ToleranceRatio))
}

// WithinTolerance reports whether current matches expected.
func (c Config) WithinTolerance(current, expected int64) bool {
	diff := current - expected
	if diff < 0 {
		diff = -diff
	}
	return diff <= c.Tolerance(expected)
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CheckInterval < 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.StableChecks < 2 {
		c.StableChecks = 2
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = d.StopTimeout
	}
	if c.MinToleranceBytes < 0 {
		c.MinToleranceBytes = 0
	}
	if c.ToleranceRatio < 0 {
		c.ToleranceRatio = 0
	}
	return c
}
