package events

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
)

// LogSink writes events to the structured logger. This is the default sink
// when no consumer is configured.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink creates a sink that logs each event at debug level.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Publish(_ context.Context, event *Event) {
	s.logger.Debug("domain event",
		"type", event.Type,
		"source", event.Source,
		"entity", event.EntityID,
		"related", event.RelatedID,
	)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(context.Context, *Event) {}

// CollectSink accumulates events in memory. Test helper.
type CollectSink struct {
	mu     sync.Mutex
	events []*Event
}

func (s *CollectSink) Publish(_ context.Context, event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// Events returns a copy of everything published so far.
func (s *CollectSink) Events() []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns published events matching the given type.
func (s *CollectSink) OfType(t EventType) []*Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears collected events.
func (s *CollectSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
