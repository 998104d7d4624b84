package notification

import (
	"github.com/downloadnotifier/downloadnotifier/internal/notification/types"
)

// Re-export types from the types sub-package
type (
	Level           = types.Level
	NotifierType    = types.NotifierType
	Notifier        = types.Notifier
	CompletionEvent = types.CompletionEvent
)

// Re-export constants
const (
	LevelInfo     = types.LevelInfo
	LevelDownload = types.LevelDownload
	LevelError    = types.LevelError

	NotifierWebhook = types.NotifierWebhook
	NotifierMock    = types.NotifierMock
)

// Sink receives everything the detection core reports to its host.
type Sink interface {
	// Status replaces the transient progress line.
	Status(message string)
	// Log appends a line to the activity log.
	Log(message string, level Level)
	// Complete is called once per finished download.
	Complete(event CompletionEvent)
}

// LogEntry is one line of the activity log.
type LogEntry struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
	Time    string `json:"time"`
}

// Subscriber receives sink calls in the host process (GUI, tray, alarm).
type Subscriber struct {
	OnStatus   func(message string)
	OnLog      func(entry LogEntry)
	OnComplete func(event CompletionEvent)
}

// Discard is a Sink that drops everything.
var Discard Sink = discardSink{}

type discardSink struct{}

func (discardSink) Status(string) {}

func (discardSink) Log(string, Level) {}

func (discardSink) Complete(CompletionEvent) {}
