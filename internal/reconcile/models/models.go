// Package models defines sync cursors, review items and the batches a device
// ships for reconciliation.
package models

import (
	"time"

	auditmodels "keepsake/internal/audit/models"
	consentmodels "keepsake/internal/consent/models"
	memorymodels "keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
)

// CursorState is where a device stream is in its sync cycle.
type CursorState string

const (
	StateDisconnected CursorState = "disconnected"
	StateSyncing      CursorState = "syncing"
	StateReconciled   CursorState = "reconciled"
	StateQuarantined  CursorState = "quarantined"
)

func (s CursorState) IsValid() bool {
	switch s {
	case StateDisconnected, StateSyncing, StateReconciled, StateQuarantined:
		return true
	}
	return false
}

// Cursor is the central view of one device stream: how far its chain has
// been merged and whether a merge is in flight or under review.
//
// Version is the row version used for compare-and-set saves; zero means the
// cursor was never persisted.
type Cursor struct {
	Stream          id.StreamID
	SubjectID       id.SubjectID
	State           CursorState
	LastSeq         int64
	LastHash        string
	RechainRequired bool
	Version         int64
	UpdatedAt       time.Time
}

// NewCursor returns the cursor of a stream that never synced.
func NewCursor(stream id.StreamID, subject id.SubjectID, genesis string, now time.Time) *Cursor {
	return &Cursor{
		Stream:    stream,
		SubjectID: subject,
		State:     StateDisconnected,
		LastHash:  genesis,
		UpdatedAt: now,
	}
}

// BeginSync moves the cursor to Syncing. A merge already in flight is a
// conflict unless it has been silent for longer than staleAfter, which is
// taken as a crashed merge. A quarantined stream stays blocked until review.
func (c *Cursor) BeginSync(now time.Time, staleAfter time.Duration) error {
	switch c.State {
	case StateSyncing:
		if now.Sub(c.UpdatedAt) < staleAfter {
			return dErrors.New(dErrors.CodeConflict, "stream is already syncing")
		}
	case StateQuarantined:
		return dErrors.New(dErrors.CodeForkDetected, "stream is quarantined pending review")
	}
	c.State = StateSyncing
	c.UpdatedAt = now
	return nil
}

// Advance records a merged tail. The cursor passes through Reconciled and
// rests at Disconnected until the next batch arrives.
func (c *Cursor) Advance(seq int64, hash string, now time.Time) {
	if seq > c.LastSeq {
		c.LastSeq, c.LastHash = seq, hash
	}
	c.State = StateReconciled
	c.RechainRequired = false
	c.Disconnect(now)
}

// Quarantine blocks the stream after a fork.
func (c *Cursor) Quarantine(now time.Time) {
	c.State = StateQuarantined
	c.UpdatedAt = now
}

// Disconnect returns the cursor to rest at its last merged point.
func (c *Cursor) Disconnect(now time.Time) {
	c.State = StateDisconnected
	c.UpdatedAt = now
}

// Resolution is a reviewer's decision on a quarantined batch.
type Resolution string

const (
	// ResolutionDiscard drops the batch; the device keeps its tail.
	ResolutionDiscard Resolution = "discard"
	// ResolutionRechain asks the device to rebuild its unmerged tail onto
	// the central tail hash and sync again.
	ResolutionRechain Resolution = "rechain"
)

func (r Resolution) IsValid() bool {
	return r == ResolutionDiscard || r == ResolutionRechain
}

type ReviewStatus string

const (
	ReviewOpen     ReviewStatus = "open"
	ReviewResolved ReviewStatus = "resolved"
)

// ReviewItem is a quarantined batch waiting for a human decision.
type ReviewItem struct {
	ID               id.ReviewID
	Stream           id.StreamID
	SubjectID        id.SubjectID
	Reason           string
	FirstSeq         int64
	LastSeq          int64
	ExpectedPrevHash string
	ReceivedPrevHash string
	Status           ReviewStatus
	Resolution       Resolution
	Reviewer         id.ActorType
	CreatedAt        time.Time
	ResolvedAt       *time.Time
}

// Resolve records the decision. A review is resolved once.
func (r *ReviewItem) Resolve(resolution Resolution, reviewer id.ActorType, now time.Time) error {
	if r.Status == ReviewResolved {
		return dErrors.New(dErrors.CodeConflict, "review is already resolved")
	}
	r.Status = ReviewResolved
	r.Resolution = resolution
	r.Reviewer = reviewer
	r.ResolvedAt = &now
	return nil
}

// ReviewFilter selects review items. Zero values match everything.
type ReviewFilter struct {
	Stream id.StreamID
	Status ReviewStatus
	Limit  int
}

// Batch is what a device ships: the unmerged tail of its chain and the local
// consent and object state captured alongside it.
type Batch struct {
	Stream    id.StreamID
	SubjectID id.SubjectID
	Events    []auditmodels.Event
	Consents  []*consentmodels.Record
	Objects   []*memorymodels.Object
}

// Validate checks that everything in the batch belongs to its stream and subject.
// CapturedConsents returns the consent records of the batch whose version was
// created by one of events. A record whose version was merged earlier is
// left out, so resending it cannot apply that version again.
func CapturedConsents(events []auditmodels.Event, records []*consentmodels.Record) []*consentmodels.Record {
	type version struct {
		t consentmodels.Type
		v int
	}
	captured := make(map[version]bool)
	for i := range events {
		if events[i].Type.IsConsent() {
			captured[version{consentmodels.Type(events[i].ConsentType), events[i].ConsentVersion}] = true
		}
	}
	var out []*consentmodels.Record
	for _, r := range records {
		if captured[version{r.Type, r.Version}] {
			out = append(out, r)
		}
	}
	return out
}

func (b *Batch) Validate() error {
	if !b.Stream.IsDevice() {
		return dErrors.New(dErrors.CodeValidation, "only device streams are reconciled")
	}
	if b.SubjectID.IsNil() {
		return dErrors.New(dErrors.CodeValidation, "subject required")
	}
	for i := range b.Events {
		if b.Events[i].Stream != b.Stream {
			return dErrors.New(dErrors.CodeValidation, "event "+b.Events[i].ID.String()+" is not on the batch stream")
		}
	}
	for _, r := range b.Consents {
		if r.SubjectID != b.SubjectID {
			return dErrors.New(dErrors.CodeValidation, "consent record belongs to another subject")
		}
	}
	for _, o := range b.Objects {
		if o.OwnerID != b.SubjectID {
			return dErrors.New(dErrors.CodeValidation, "memory object belongs to another subject")
		}
	}
	return nil
}

// Outcome reports a successful merge. DependentsLocked counts central objects
// locked by a local restriction; Locked lists imported objects whose consents
// lost reconciliation.
type Outcome struct {
	Cursor           Cursor
	EventsMerged     int
	ConsentsApplied  int
	DependentsLocked int
	Imported         int
	Locked           []id.ObjectID
	Restricted       int
	Purged           int
	Skipped          int
}
