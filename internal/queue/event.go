// Package queue defines the change events exchanged over the message
// broker and the audit consumer that reads them.
package queue

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hkpo/mobilepost-directory/internal/model"
)

// DefaultQueue is the durable queue change events are routed to.
const DefaultQueue = "mobilepost.changed"

// Action names the write that produced an event.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionImport Action = "import"
)

// MobilePostChangedEvent is published after a successful write. It carries
// enough for consumers to audit or invalidate without querying the store.
// Import events describe a whole batch: ID and the key fields are zero and
// Count holds the number of rows that changed.
type MobilePostChangedEvent struct {
	EventID       string   `json:"eventId"`
	Action        Action   `json:"action"`
	ID            uint64   `json:"id,omitempty"`
	MobileCode    string   `json:"mobileCode,omitempty"`
	DayOfWeekCode int      `json:"dayOfWeekCode,omitempty"`
	Seq           int      `json:"seq"`
	Changed       []string `json:"changed,omitempty"`
	Count         int      `json:"count,omitempty"`
	OccurredAt    string   `json:"occurredAt"`
}

// NewChangedEvent stamps a new event with a random id and the current time.
func NewChangedEvent(action Action) MobilePostChangedEvent {
	return MobilePostChangedEvent{
		EventID:    uuid.NewString(),
		Action:     action,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// ForRecord copies the identifying fields of m into the event.
func (e MobilePostChangedEvent) ForRecord(m *model.MobilePost) MobilePostChangedEvent {
	if m == nil {
		return e
	}
	e.ID = m.ID
	e.MobileCode, e.DayOfWeekCode, e.Seq = m.Key()
	return e
}

// Encode renders the event as its wire JSON.
func (e MobilePostChangedEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// DecodeChangedEvent parses a wire message.
func DecodeChangedEvent(body []byte) (MobilePostChangedEvent, error) {
	var ev MobilePostChangedEvent
	err := json.Unmarshal(body, &ev)
	return ev, err
}
