// Package diagnostics keeps the user-visible, append-only log of link and
// sync outcomes.
package diagnostics

import (
	"context"
	"sync"
	"time"

	"portfolio_link/internal/logging"
	"portfolio_link/internal/models"
)

// Entry levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Sink persists entries beyond the process lifetime.
type Sink interface {
	Append(ctx context.Context, userID string, entry models.DiagnosticEntry) error
}

// Log is an append-only diagnostic log for one user. It is never truncated.
type Log struct {
	userID string
	sink   Sink
	logger *logging.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries []models.DiagnosticEntry
}

// Option configures a Log.
type Option func(*Log)

// WithSink mirrors every entry to a persistent sink.
func WithSink(s Sink) Option {
	return func(l *Log) { l.sink = s }
}

// WithLogger sets the structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Log) { l.logger = logger.Component("diagnostics") }
}

// WithClock overrides the entry timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates an empty Log for a user.
func New(userID string, opts ...Option) *Log {
	l := &Log{
		userID: userID,
		logger: logging.NewSilent(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Info appends an informational entry.
func (l *Log) Info(message string) {
	l.append(LevelInfo, message)
}

// Error appends an error entry.
func (l *Log) Error(message string) {
	l.append(LevelError, message)
}

func (l *Log) append(level, message string) {
	entry := models.DiagnosticEntry{At: l.now(), Level: level, Message: message}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	if l.sink != nil {
		if err := l.sink.Append(context.Background(), l.userID, entry); err != nil {
			l.logger.Warn().Err(err).Str("user_id", l.userID).Msg("persisting diagnostic entry")
		}
	}
}

// Entries returns a copy of all entries in append order.
func (l *Log) Entries() []models.DiagnosticEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.DiagnosticEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Lines returns all entries rendered as timestamped strings.
func (l *Log) Lines() []string {
	entries := l.Entries()
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Len returns the number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// CountLevel returns the number of entries at level.
func (l *Log) CountLevel(level string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, e := range l.entries {
		if e.Level == level {
			n++
		}
	}
	return n
}
