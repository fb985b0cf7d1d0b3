// Package events carries domain events emitted by the reconciler. Delivery
// is fire-and-forget: a slow or failing sink never blocks or fails the
// mutation that produced the event.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType represents the kind of domain event.
type EventType string

const (
	// EventTypeEntityCreated fires the first time an entity is fully
	// hydrated. Stub creation does not fire it; hydration of a stub does.
	EventTypeEntityCreated EventType = "entity_created"
	// EventTypeEntityUpdated fires when a hydrated entity's payload changed
	EventTypeEntityUpdated EventType = "entity_updated"
	// EventTypeEntityClosed fires when an entity transitions to closed
	EventTypeEntityClosed EventType = "entity_closed"
	// EventTypeEntityReopened fires when a closed entity reopens
	EventTypeEntityReopened EventType = "entity_reopened"
	// EventTypeEntityDeleted fires when the remote entity was deleted
	EventTypeEntityDeleted EventType = "entity_deleted"
	// EventTypeEntityLinked fires when a dependency edge is added
	EventTypeEntityLinked EventType = "entity_linked"
	// EventTypeEntityUnlinked fires when a dependency edge is removed
	EventTypeEntityUnlinked EventType = "entity_unlinked"
	// EventTypeParentChanged fires when an entity's parent is set or cleared
	EventTypeParentChanged EventType = "parent_changed"
)

// Source identifies which channel produced an event.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceBulkSync Source = "bulk_sync"
)

// Event is one domain event. EntityID is always set; RelatedID is set for
// link/unlink and parent changes.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Source    Source    `json:"source"`
	EntityID  int64     `json:"entity_id"`
	RelatedID int64     `json:"related_id,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// Sink consumes domain events. Publish must not block on downstream
// consumers and must swallow its own failures.
type Sink interface {
	Publish(ctx context.Context, event *Event)
}

// New creates an event with a fresh ID and the current timestamp.
func New(eventType EventType, source Source, entityID int64, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		EntityID:  entityID,
		Message:   message,
	}
}

// NewLinked creates an entity_linked event for a dependency edge.
func NewLinked(source Source, blockedID, blockerID int64) *Event {
	e := New(EventTypeEntityLinked, source, blockedID, "")
	e.RelatedID = blockerID
	return e
}

// NewUnlinked creates an entity_unlinked event for a removed edge.
func NewUnlinked(source Source, blockedID, blockerID int64) *Event {
	e := New(EventTypeEntityUnlinked, source, blockedID, "")
	e.RelatedID = blockerID
	return e
}

// NewParentChanged creates a parent_changed event. parentID is zero when
// the parent was cleared.
func NewParentChanged(source Source, childID, parentID int64) *Event {
	e := New(EventTypeParentChanged, source, childID, "")
	e.RelatedID = parentID
	return e
}
