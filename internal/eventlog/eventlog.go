// Package eventlog provides a structured protocol event log with
// subscriber fan-out. State transitions and protocol events are
// delivered to any number of subscribers; this is the observability
// surface of a session and is distinct from error propagation.
package eventlog

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Level classifies an event entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry is a single structured event.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	Detail    string    `json:"detail,omitempty"`
}

// Subscriber receives event entries. Delivery is synchronous;
// implementations must not block or call back into the session.
type Subscriber interface {
	OnEvent(Entry)
}

// SubscriberFunc adapts an ordinary function to a Subscriber.
type SubscriberFunc func(Entry)

// OnEvent implements the Subscriber interface.
func (f SubscriberFunc) OnEvent(e Entry) {
	f(e)
}

// Log fans entries out to subscribers and mirrors them to zerolog.
type Log struct {
	mu   sync.Mutex
	subs map[int]Subscriber
	next int
}

// New creates an empty event log.
func New() *Log {
	return &Log{subs: make(map[int]Subscriber)}
}

// Subscribe registers a subscriber and returns an unsubscribe handle.
func (l *Log) Subscribe(s Subscriber) (unsubscribe func()) {
	l.mu.Lock()
	id := l.next
	l.next++
	l.subs[id] = s
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// Emit records an event and delivers it to all subscribers.
func (l *Log) Emit(level Level, message, detail string) {
	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
		Detail:    detail,
	}

	l.mu.Lock()
	subs := make([]Subscriber, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	ev := log.Info()
	switch level {
	case LevelWarn:
		ev = log.Warn()
	case LevelError:
		ev = log.Error()
	}
	if detail != "" {
		ev = ev.Str("detail", detail)
	}
	ev.Msg(message)

	for _, s := range subs {
		s.OnEvent(entry)
	}
}

// Info emits an info-level event.
func (l *Log) Info(message, detail string) { l.Emit(LevelInfo, message, detail) }

// Warn emits a warn-level event.
func (l *Log) Warn(message, detail string) { l.Emit(LevelWarn, message, detail) }

// Error emits an error-level event.
func (l *Log) Error(message, detail string) { l.Emit(LevelError, message, detail) }
