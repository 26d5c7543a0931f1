// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "keepsake/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing ObjectID where SubjectID is expected.
type (
	SubjectID uuid.UUID
	RecordID  uuid.UUID
	ObjectID  uuid.UUID
	EventID   uuid.UUID
	ReviewID  uuid.UUID
)

// StreamID names one audit hash chain. Central streams are keyed by subject,
// device streams by a locally assigned device identifier.
type StreamID string

// DeviceID is the opaque identifier a device assigns itself at enrolment.
type DeviceID string

const (
	subjectStreamPrefix = "subject:"
	deviceStreamPrefix  = "device:"
)

// SubjectStream returns the central audit stream for a subject.
func SubjectStream(subject SubjectID) StreamID {
	return StreamID(subjectStreamPrefix + subject.String())
}

// DeviceStream returns the local audit stream for a device.
func DeviceStream(device DeviceID) StreamID {
	return StreamID(deviceStreamPrefix + string(device))
}

// IsDevice reports whether the stream was recorded on a device.
func (s StreamID) IsDevice() bool {
	return strings.HasPrefix(string(s), deviceStreamPrefix)
}

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseSubjectID(s string) (SubjectID, error) {
	id, err := parseUUID(s, "subject ID")
	return SubjectID(id), err
}

func ParseRecordID(s string) (RecordID, error) {
	id, err := parseUUID(s, "consent record ID")
	return RecordID(id), err
}

func ParseObjectID(s string) (ObjectID, error) {
	id, err := parseUUID(s, "object ID")
	return ObjectID(id), err
}

func ParseEventID(s string) (EventID, error) {
	id, err := parseUUID(s, "event ID")
	return EventID(id), err
}

func ParseReviewID(s string) (ReviewID, error) {
	id, err := parseUUID(s, "review ID")
	return ReviewID(id), err
}

func ParseStreamID(s string) (StreamID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "stream ID cannot be empty")
	}
	if !strings.HasPrefix(s, subjectStreamPrefix) && !strings.HasPrefix(s, deviceStreamPrefix) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "stream ID must be a subject or device stream")
	}
	return StreamID(s), nil
}

// New ID helpers.

func NewRecordID() RecordID { return RecordID(uuid.New()) }
func NewObjectID() ObjectID { return ObjectID(uuid.New()) }
func NewEventID() EventID   { return EventID(uuid.New()) }
func NewReviewID() ReviewID { return ReviewID(uuid.New()) }

// String methods - for logging and debugging.

func (id SubjectID) String() string { return uuid.UUID(id).String() }
func (id RecordID) String() string  { return uuid.UUID(id).String() }
func (id ObjectID) String() string  { return uuid.UUID(id).String() }
func (id EventID) String() string   { return uuid.UUID(id).String() }
func (id ReviewID) String() string  { return uuid.UUID(id).String() }
func (s StreamID) String() string   { return string(s) }
func (d DeviceID) String() string   { return string(d) }

// IsNil checks - used for service-layer validation.

func (id SubjectID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id RecordID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id ObjectID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ReviewID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. Nil UUIDs are rejected at the boundary.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	if id == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be nil")
	}
	return id, nil
}
