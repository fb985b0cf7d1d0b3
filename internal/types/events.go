package types

import "time"

// EventType identifies a row in the audit trail
type EventType string

const (
	EventCreated       EventType = "created"
	EventHydrated      EventType = "hydrated"
	EventUpdated       EventType = "updated"
	EventClosed        EventType = "closed"
	EventReopened      EventType = "reopened"
	EventDeleted       EventType = "deleted"
	EventDepAdded      EventType = "dep_added"
	EventDepRemoved    EventType = "dep_removed"
	EventParentSet     EventType = "parent_set"
	EventParentCleared EventType = "parent_cleared"
)

// Event is one row of the per-entity audit trail. Every skip and every
// relationship mutation leaves a trace here so that a sync run can be
// replayed manually from identifiers alone.
type Event struct {
	ID        int64     `json:"id"`
	EntityID  int64     `json:"entity_id"`
	EventType EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
