// Package outbox implements the transactional outbox used to hand events to Kafka.
//
// Producers append entries (in the same transaction as the state change where one
// exists); the worker publishes pending entries and marks them processed.
package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Kind selects the destination topic for an entry.
type Kind string

const (
	// KindAuditEvent mirrors an appended audit event to downstream consumers.
	KindAuditEvent Kind = "audit_event"
	// KindRenewalDue asks the notification collaborator to remind a subject.
	KindRenewalDue Kind = "renewal_due"
)

// entryNamespace seeds deterministic entry ids.
var entryNamespace = uuid.MustParse("6f1c3b52-7f0e-4b8e-9d8a-2a4c0e5b9d11")

// Entry is one pending or published outbox row.
type Entry struct {
	ID          uuid.UUID
	Kind        Kind
	AggregateID string // subject or stream the event belongs to
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time // nil while pending
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates an entry with a random id.
func NewEntry(kind Kind, aggregateID, eventType string, payload []byte, now time.Time) *Entry {
	return &Entry{
		ID:          uuid.New(),
		Kind:        kind,
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   now,
	}
}

// NewDeterministicEntry derives the id from key so re-emitting the same signal
// collides with the first entry instead of creating a second one.
func NewDeterministicEntry(kind Kind, key, aggregateID, eventType string, payload []byte, now time.Time) *Entry {
	e := NewEntry(kind, aggregateID, eventType, payload, now)
	e.ID = uuid.NewSHA1(entryNamespace, []byte(string(kind)+"|"+key))
	return e
}
