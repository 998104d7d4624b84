package mock

import (
	"strings"
	"sync"

	"github.com/downloadnotifier/downloadnotifier/internal/notification/types"
)

// LogLine is a recorded Sink.Log call.
type LogLine struct {
	Message string
	Level   types.Level
}

// Sink records every call it receives.
type Sink struct {
	mu          sync.Mutex
	statuses    []string
	logs        []LogLine
	completions []types.CompletionEvent
	completeCh  chan types.CompletionEvent
}

// NewSink creates a recording sink.
func NewSink() *Sink {
	return &Sink{completeCh: make(chan types.CompletionEvent, 64)}
}

func (s *Sink) Status(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, message)
}

func (s *Sink) Log(message string, level types.Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, LogLine{Message: message, Level: level})
}

func (s *Sink) Complete(event types.CompletionEvent) {
	s.mu.Lock()
	s.completions = append(s.completions, event)
	s.mu.Unlock()

	select {
	case s.completeCh <- event:
	default:
	}
}

// Completed delivers completion events as they arrive.
func (s *Sink) Completed() <-chan types.CompletionEvent {
	return s.completeCh
}

func (s *Sink) Statuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.statuses))
	copy(out, s.statuses)
	return out
}

func (s *Sink) Logs() []LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]LogLine, len(s.logs))
	copy(out, s.logs)
	return out
}

func (s *Sink) Completions() []types.CompletionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.CompletionEvent, len(s.completions))
	copy(out, s.completions)
	return out
}

// LogsContaining returns recorded log lines whose message contains substr.
func (s *Sink) LogsContaining(substr string) []LogLine {
	var out []LogLine
	for _, l := range s.Logs() {
		if strings.Contains(l.Message, substr) {
			out = append(out, l)
		}
	}
	return out
}
