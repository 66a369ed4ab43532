package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEvents is the default maximum number of events to store.
const DefaultMaxEvents = 10000

// MemoryLogger keeps the newest events in memory.
type MemoryLogger struct {
	mu        sync.RWMutex
	events    []*Event // newest first
	maxEvents int
}

// MemoryOption configures a MemoryLogger.
type MemoryOption func(*MemoryLogger)

// WithMaxEvents sets the maximum number of events to store.
func WithMaxEvents(max int) MemoryOption {
	return func(m *MemoryLogger) {
		if max > 0 {
			m.maxEvents = max
		}
	}
}

// NewMemoryLogger creates an empty in-memory logger.
func NewMemoryLogger(opts ...MemoryOption) *MemoryLogger {
	m := &MemoryLogger{maxEvents: DefaultMaxEvents}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log assigns ID and timestamp when unset and stores a copy of e.
func (m *MemoryLogger) Log(_ context.Context, e *Event) error {
	if e == nil {
		return nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]*Event{copyEvent(e)}, m.events...)
	if len(m.events) > m.maxEvents {
		m.events = m.events[:m.maxEvents]
	}
	return nil
}

func (m *MemoryLogger) List(_ context.Context, opts ListOptions) ([]*Event, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Event
	for _, e := range m.events {
		if matches(e, opts) {
			matched = append(matched, e)
		}
	}
	total := len(matched)
	start := min(max(opts.Offset, 0), total)
	end := min(start+opts.limit(), total)

	out := make([]*Event, 0, end-start)
	for _, e := range matched[start:end] {
		out = append(out, copyEvent(e))
	}
	return out, total, nil
}

func matches(e *Event, opts ListOptions) bool {
	switch {
	case opts.ActorID != "" && e.ActorID != opts.ActorID:
		return false
	case opts.TargetID != "" && e.TargetID != opts.TargetID:
		return false
	case opts.Action != "" && e.Action != opts.Action:
		return false
	case opts.Since != nil && e.Timestamp.Before(*opts.Since):
		return false
	}
	return true
}
