package domain

import (
	"encoding/json"
	"time"
)

// ResourceType is a provider resource with its own cursor.
type ResourceType string

const (
	ResourceMessages ResourceType = "messages"
	ResourceCalendar ResourceType = "calendar"
)

// Resources lists every resource a connection syncs, in stage order.
var Resources = []ResourceType{ResourceMessages, ResourceCalendar}

// EventType returns the canonical event type stored for records of this resource.
func (r ResourceType) EventType() EventType {
	if r == ResourceCalendar {
		return EventMeeting
	}
	return EventEmail
}

// EventType is the kind of canonical event.
type EventType string

const (
	EventEmail   EventType = "email"
	EventMeeting EventType = "meeting"
)

// Identity records how the external identifier of an event was chosen.
type Identity string

const (
	// IdentityStable means the provider's cross-client identifier was used.
	IdentityStable Identity = "stable"
	// IdentityFallback means the provider's internal record id was used instead.
	IdentityFallback Identity = "fallback"
	// IdentityUnidentified means no identifier was available; the event is
	// always inserted and flagged for review.
	IdentityUnidentified Identity = "unidentified"
)

// RawRecord is one record as returned by a provider, before canonicalization.
type RawRecord struct {
	Provider   ProviderName
	Resource   ResourceType
	ProviderID string
	Removed    bool
	Payload    json.RawMessage
}

// Event is the canonical representation of an email message or calendar meeting.
type Event struct {
	ID           string          `json:"id"`
	ConnectionID string          `json:"connection_id"`
	Type         EventType       `json:"type"`
	Source       string          `json:"source"`
	ExternalID   string          `json:"external_id,omitempty"`
	Identity     Identity        `json:"identity"`
	OccurredAt   time.Time       `json:"occurred_at"`
	Subject      string          `json:"subject"`
	Body         string          `json:"body"`
	Metadata     map[string]any  `json:"metadata"`
	Raw          json.RawMessage `json:"raw"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Deduplicable reports whether the event carries an identifier the writer can
// deduplicate on.
func (e Event) Deduplicable() bool {
	return e.ExternalID != "" && e.Identity != IdentityUnidentified
}

// MetaString returns a string metadata value or "".
func (e Event) MetaString(key string) string {
	if v, ok := e.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata value or false.
func (e Event) MetaBool(key string) bool {
	v, _ := e.Metadata[key].(bool)
	return v
}

// DuplicateEntry is an append-only audit record of a skipped duplicate write.
type DuplicateEntry struct {
	EventType       EventType
	ExternalID      string
	Subject         string
	ExistingEventID string
	Source          string
	CreatedAt       time.Time
}

// Tag is a label attached to an event by a downstream pipeline.
type Tag struct {
	EventID   string    `json:"event_id"`
	Tag       string    `json:"tag"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
