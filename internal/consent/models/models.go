package models

import (
	"time"

	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
)

// Record is one version of a subject's consent for a type.
//
// # History Invariant
//
// Records are insert-only. The current record for (SubjectID, Type) is the
// one with the highest Version; every grant, renewal, revocation or expiry
// inserts Version+1 and stamps SupersededAt on its predecessor. SupersededAt
// is the only column ever written on an existing row.
type Record struct {
	ID           id.RecordID
	SubjectID    id.SubjectID
	Type         Type
	Status       Status
	GrantedAt    time.Time
	ExpiresAt    time.Time
	RevokedAt    *time.Time
	Method       Method
	Region       id.Region
	Version      int
	ActorType    id.ActorType
	CreatedAt    time.Time
	SupersededAt *time.Time
}

// NewGrant builds the first version, or the version that follows prior when
// prior is non-nil.
func NewGrant(subject id.SubjectID, t Type, method Method, region id.Region, actor id.ActorType, now time.Time, policy TypePolicy, prior *Record) (*Record, error) {
	if subject.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "subject ID required")
	}
	if !method.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "invalid consent method")
	}
	if region.IsZero() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "region required")
	}
	return &Record{
		ID:        id.NewRecordID(),
		SubjectID: subject,
		Type:      t,
		Status:    StatusGranted,
		GrantedAt: now,
		ExpiresAt: now.Add(policy.DefaultExpiry),
		Method:    method,
		Region:    region,
		Version:   nextVersion(prior),
		ActorType: actor,
		CreatedAt: now,
	}, nil
}

// Successor copies r into the next version with a new status.
func (r *Record) Successor(status Status, actor id.ActorType, now time.Time) *Record {
	next := *r
	next.ID = id.NewRecordID()
	next.Status = status
	next.Version = r.Version + 1
	next.ActorType = actor
	next.CreatedAt = now
	next.SupersededAt = nil
	if status == StatusRevoked {
		revokedAt := now
		next.RevokedAt = &revokedAt
	}
	return &next
}

func nextVersion(prior *Record) int {
	if prior == nil {
		return 1
	}
	return prior.Version + 1
}

// EffectiveStatus derives the status at now. A granted record past its expiry
// reads as expired even before the scheduler persists the transition.
func (r *Record) EffectiveStatus(now time.Time, reminderLead time.Duration) Status {
	switch r.Status {
	case StatusRevoked, StatusExpired:
		return r.Status
	}
	if !now.Before(r.ExpiresAt) {
		return StatusExpired
	}
	if reminderLead > 0 && !now.Before(r.ExpiresAt.Add(-reminderLead)) {
		return StatusExpiring
	}
	return StatusGranted
}

// IsActive reports whether the record permits consented writes at now.
func (r *Record) IsActive(now time.Time) bool {
	return r.Status == StatusGranted && now.Before(r.ExpiresAt)
}

// WithinGrace reports whether an expired record can still be renewed in place.
func (r *Record) WithinGrace(now time.Time, grace time.Duration) bool {
	return now.Before(r.ExpiresAt.Add(grace))
}

// ReminderDue reports whether a renewal-due signal should be emitted.
func (r *Record) ReminderDue(now time.Time, lead time.Duration) bool {
	return r.Status == StatusGranted && !now.Before(r.ExpiresAt.Add(-lead)) && now.Before(r.ExpiresAt)
}

// GraceAnchor is the instant the grace window for dependents starts.
func (r *Record) GraceAnchor() time.Time {
	if r.Status == StatusRevoked && r.RevokedAt != nil {
		return *r.RevokedAt
	}
	return r.ExpiresAt
}

// View is a Record with its status computed at read time.
type View struct {
	*Record
	Effective Status
}

// DueQuery selects current granted records whose reminder window has opened,
// ordered by expiry then record ID.
type DueQuery struct {
	Type   Type
	Before time.Time // expires_at - reminder_lead <= now, expressed as expires_at <= Before
	After  *Position
	Limit  int
}

// InactiveQuery selects current expired or revoked records, ordered by
// creation then record ID.
type InactiveQuery struct {
	Type  Type
	After *Position
	Limit int
}

// Position is the sort key of the last record of a page. Listing resumes
// strictly after it; a nil Position starts from the beginning.
type Position struct {
	At time.Time
	ID id.RecordID
}

// Less reports whether the key (at, recordID) sorts after p.
func (p *Position) Less(at time.Time, recordID id.RecordID) bool {
	if p == nil {
		return true
	}
	if c := p.At.Compare(at); c != 0 {
		return c < 0
	}
	return p.ID.String() < recordID.String()
}

// OrElseZero returns p, or the position before every record when p is nil.
func (p *Position) OrElseZero() Position {
	if p == nil {
		return Position{}
	}
	return *p
}

// DuePosition is r's key in a DueQuery listing.
func (r *Record) DuePosition() *Position { return &Position{At: r.ExpiresAt, ID: r.ID} }

// InactivePosition is r's key in an InactiveQuery listing.
func (r *Record) InactivePosition() *Position { return &Position{At: r.CreatedAt, ID: r.ID} }
