// Package models defines memory objects, their lifecycle and erasure requests.
package models

import (
	"time"

	consentmodels "keepsake/internal/consent/models"
	id "keepsake/pkg/domain"
)

// Scope is how widely a memory object is retained.
type Scope string

const (
	ScopeSession Scope = "session"
	ScopeUser    Scope = "user"
	ScopeAmbient Scope = "ambient"
)

func (s Scope) IsValid() bool {
	return s == ScopeSession || s == ScopeUser || s == ScopeAmbient
}

// State is the lifecycle state of a memory object.
type State string

const (
	StateActive State = "active"
	StateLocked State = "locked"
	StatePurged State = "purged" // terminal
)

func (s State) IsValid() bool {
	return s == StateActive || s == StateLocked || s == StatePurged
}

// LockReason records why an object left the active state.
type LockReason string

const (
	ReasonExpiry     LockReason = "expiry"
	ReasonRevocation LockReason = "revocation"
	ReasonManual     LockReason = "manual"
	ReasonErasure    LockReason = "erasure"
	ReasonArchive    LockReason = "archive"
	ReasonConflict   LockReason = "conflict"
)

// ConsentRef names the consent version an object was written under.
type ConsentRef struct {
	Type    consentmodels.Type
	Version int
}

// Object is the metadata of one stored memory. Content lives behind ContentRef
// and is never read by this module.
//
// An object is active only while the consents gating it are granted and
// unexpired. Locked objects carry the deadline after which the scheduler
// purges them; a nil PurgeAfter means they are held until explicit action.
type Object struct {
	ID           id.ObjectID
	OwnerID      id.SubjectID
	Scope        Scope
	ConsentRef   ConsentRef
	State        State
	Topic        string
	ContentRef   string
	LockReason   LockReason
	OriginStream id.StreamID
	Region       id.Region // residency of the gating consent; tags audit events
	CreatedAt    time.Time
	LockedAt     *time.Time
	PurgeAfter   *time.Time
	PurgedAt     *time.Time
	UpdatedAt    time.Time
}

// Lock moves an active object to locked. It reports false when the object
// was not active, so repeated sweeps stay idempotent.
func (o *Object) Lock(reason LockReason, now time.Time, purgeAfter *time.Time) bool {
	if o.State != StateActive {
		return false
	}
	o.State = StateLocked
	o.LockReason = reason
	lockedAt := now
	o.LockedAt = &lockedAt
	o.PurgeAfter = purgeAfter
	o.UpdatedAt = now
	return true
}

// Unlock returns a locked object to active.
func (o *Object) Unlock(now time.Time) bool {
	if o.State != StateLocked {
		return false
	}
	o.State = StateActive
	o.LockReason = ""
	o.LockedAt = nil
	o.PurgeAfter = nil
	o.UpdatedAt = now
	return true
}

// Purge marks the object purged. Purged is terminal.
func (o *Object) Purge(now time.Time) bool {
	if o.State == StatePurged {
		return false
	}
	o.State = StatePurged
	purgedAt := now
	o.PurgedAt = &purgedAt
	o.PurgeAfter = nil
	o.UpdatedAt = now
	return true
}

// WithinGrace reports whether a locked object may still be reactivated.
func (o *Object) WithinGrace(now time.Time) bool {
	return o.State == StateLocked && (o.PurgeAfter == nil || now.Before(*o.PurgeAfter))
}

// PurgeDue reports whether the grace deadline has passed.
func (o *Object) PurgeDue(now time.Time) bool {
	return o.State == StateLocked && o.PurgeAfter != nil && !now.Before(*o.PurgeAfter)
}

// ListFilter narrows an owner's objects.
type ListFilter struct {
	States []State
	Topic  string
	Limit  int
}

// Matches reports whether o passes the state and topic filters.
func (f ListFilter) Matches(o *Object) bool {
	if f.Topic != "" && o.Topic != f.Topic {
		return false
	}
	if len(f.States) == 0 {
		return true
	}
	for _, s := range f.States {
		if o.State == s {
			return true
		}
	}
	return false
}
