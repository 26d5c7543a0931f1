// Package models defines the audit event, its chain head and query types.
package models

import (
	"time"

	id "keepsake/pkg/domain"
)

// EventType names a consent or memory transition.
type EventType string

const (
	EventConsentGranted   EventType = "consent_granted"
	EventConsentRevoked   EventType = "consent_revoked"
	EventConsentRenewed   EventType = "consent_renewed"
	EventConsentExpired   EventType = "consent_expired"
	EventMemoryLocked     EventType = "memory_locked"
	EventMemoryUnlocked   EventType = "memory_unlocked"
	EventMemoryPurged     EventType = "memory_purged"
	EventMemoryExported   EventType = "memory_exported"
	EventErasureRequested EventType = "erasure_requested"
)

var validEventTypes = map[EventType]bool{
	EventConsentGranted:   true,
	EventConsentRevoked:   true,
	EventConsentRenewed:   true,
	EventConsentExpired:   true,
	EventMemoryLocked:     true,
	EventMemoryUnlocked:   true,
	EventMemoryPurged:     true,
	EventMemoryExported:   true,
	EventErasureRequested: true,
}

func (t EventType) IsValid() bool { return validEventTypes[t] }

// IsConsent reports whether t records a new consent version.
func (t EventType) IsConsent() bool {
	switch t {
	case EventConsentGranted, EventConsentRevoked, EventConsentRenewed, EventConsentExpired:
		return true
	}
	return false
}

// Outcome of the recorded action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

func (o Outcome) IsValid() bool {
	return o == OutcomeSuccess || o == OutcomeDenied || o == OutcomeError
}

// Event is one link in a stream's hash chain. Every field except SelfHash
// participates in the hash.
type Event struct {
	ID             id.EventID
	Stream         id.StreamID
	Seq            int64
	Type           EventType
	ActorType      id.ActorType
	TimestampUTC   time.Time
	TimestampLocal string
	Region         id.Region
	Outcome        Outcome

	SubjectID      id.SubjectID
	ConsentType    string
	ConsentVersion int
	ObjectID       id.ObjectID
	Detail         string

	PrevHash string
	SelfHash string
}

// Draft carries the caller-supplied fields of an event. The chain writer
// fills in the stream position and hashes.
type Draft struct {
	ID             id.EventID // optional; generated when nil
	Type           EventType
	ActorType      id.ActorType
	Timestamp      time.Time
	TimestampLocal string // optional; derived from Timestamp when empty
	Region         id.Region
	Outcome        Outcome

	SubjectID      id.SubjectID
	ConsentType    string
	ConsentVersion int
	ObjectID       id.ObjectID
	Detail         string

	// ExpectedPrevHash, when set, makes the append conditional on the stream tail.
	ExpectedPrevHash string
}

// StreamHead is the tail of one stream.
type StreamHead struct {
	Stream    id.StreamID
	Seq       int64
	Hash      string
	Algorithm string
}

// VerifyResult reports the outcome of recomputing a range of a chain.
type VerifyResult struct {
	Stream          id.StreamID `json:"stream_id"`
	Valid           bool        `json:"valid"`
	Checked         int         `json:"checked"`
	FirstDivergence int64       `json:"first_divergence,omitempty"`
	Reason          string      `json:"reason,omitempty"`
}

// Query filters audit reads. Region selects the partition; RequesterRegion is
// where the caller is resident.
type Query struct {
	RequesterRegion id.Region
	Region          id.Region
	From            *time.Time
	To              *time.Time
	Subject         *id.SubjectID
	Stream          id.StreamID
	Types           []EventType
	Limit           int
}

// IsCrossRegion reports whether the query reads outside the requester's partition.
func (q Query) IsCrossRegion() bool {
	return !q.Region.IsZero() && q.Region != q.RequesterRegion
}
