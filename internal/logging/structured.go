// Package logging provides structured JSON logging for bridgebot components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Channel   string                 `json:"channel,omitempty"`
	Thread    string                 `json:"thread,omitempty"`
	User      string                 `json:"user,omitempty"`
	Turn      string                 `json:"turn,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Logger provides structured logging scoped to a component and,
// optionally, one conversation.
type Logger struct {
	component string
	channel   string
	thread    string
	user      string
	turn      string
	min       Level
	out       io.Writer
	mu        *sync.Mutex
}

var defaultLevel = LevelInfo

// SetDefaultLevel sets the minimum level for loggers created after the
// call. Set once at startup, before components construct their loggers.
func SetDefaultLevel(min Level) {
	defaultLevel = min
}

// New creates a new logger for a component, writing JSON lines to stderr.
func New(component string) *Logger {
	return &Logger{
		component: component,
		min:       defaultLevel,
		out:       os.Stderr,
		mu:        &sync.Mutex{},
	}
}

// NewWithOutput creates a logger writing to the given writer (for tests).
func NewWithOutput(component string, out io.Writer) *Logger {
	l := New(component)
	l.out = out
	return l
}

// SetLevel sets the minimum level emitted by this logger and any
// loggers later derived from it.
func (l *Logger) SetLevel(min Level) *Logger {
	l.min = min
	return l
}

// WithConversation derives a logger carrying channel and thread context.
func (l *Logger) WithConversation(channel, thread string) *Logger {
	c := *l
	c.channel = channel
	c.thread = thread
	return &c
}

// WithUser derives a logger carrying the acting user.
func (l *Logger) WithUser(user string) *Logger {
	c := *l
	c.user = user
	return &c
}

// WithTurn derives a logger carrying a turn correlation id.
func (l *Logger) WithTurn(turn string) *Logger {
	c := *l
	c.turn = turn
	return &c
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	if levelRank[level] < levelRank[l.min] {
		return
	}

	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: l.component,
		Event:     event,
		Channel:   l.channel,
		Thread:    l.thread,
		User:      l.user,
		Turn:      l.turn,
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an info event with the elapsed duration since start.
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	if levelRank[LevelInfo] < levelRank[l.min] {
		return
	}

	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Channel:   l.channel,
		Thread:    l.thread,
		User:      l.user,
		Turn:      l.turn,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	}

	data, _ := json.Marshal(e)
	l.mu.Lock()
	fmt.Fprintln(l.out, string(data))
	l.mu.Unlock()
}
