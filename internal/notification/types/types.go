// Package types contains shared type definitions for notification packages.
package types

import (
	"context"
	"time"
)

// Level tags a log line for the host UI.
type Level string

const (
	LevelInfo     Level = "info"
	LevelDownload Level = "download"
	LevelError    Level = "error"
)

// NotifierType identifies a notification provider
type NotifierType string

const (
	NotifierWebhook NotifierType = "webhook"
	NotifierMock    NotifierType = "mock"
)

// CompletionEvent is emitted exactly once for every download judged complete.
type CompletionEvent struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ExpectedSize int64     `json:"expectedSize,omitempty"`
	ContentType  string    `json:"contentType,omitempty"`
	SessionID    string    `json:"sessionId,omitempty"`
	FirstSeenAt  time.Time `json:"firstSeenAt"`
	CompletedAt  time.Time `json:"completedAt"`
}

// Notifier is the interface external completion targets implement
type Notifier interface {
	Type() NotifierType
	Name() string
	OnComplete(ctx context.Context, event CompletionEvent) error
}
