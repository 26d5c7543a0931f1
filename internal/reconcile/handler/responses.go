package handler

import (
	"time"

	"keepsake/internal/reconcile/models"
)

type CursorResponse struct {
	Stream          string    `json:"stream"`
	SubjectID       string    `json:"subject_id,omitempty"`
	State           string    `json:"state"`
	LastSeq         int64     `json:"last_seq"`
	LastHash        string    `json:"last_hash"`
	RechainRequired bool      `json:"rechain_required"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// OutcomeResponse reports a merge. The cursor is what the device records as
// its last acknowledged point.
type OutcomeResponse struct {
	Cursor           CursorResponse `json:"cursor"`
	EventsMerged     int            `json:"events_merged"`
	ConsentsApplied  int            `json:"consents_applied"`
	DependentsLocked int            `json:"dependents_locked"`
	Imported         int            `json:"imported"`
	Locked           []string       `json:"locked"`
	Restricted       int            `json:"restricted"`
	Purged           int            `json:"purged"`
	Skipped          int            `json:"skipped"`
}

type ReviewResponse struct {
	ID               string     `json:"id"`
	Stream           string     `json:"stream"`
	SubjectID        string     `json:"subject_id"`
	Reason           string     `json:"reason"`
	FirstSeq         int64      `json:"first_seq"`
	LastSeq          int64      `json:"last_seq"`
	ExpectedPrevHash string     `json:"expected_prev_hash"`
	ReceivedPrevHash string     `json:"received_prev_hash"`
	Status           string     `json:"status"`
	Resolution       string     `json:"resolution,omitempty"`
	Reviewer         string     `json:"reviewer,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

type ReviewListResponse struct {
	Reviews []ReviewResponse `json:"reviews"`
}

func toCursorResponse(c *models.Cursor) CursorResponse {
	res := CursorResponse{
		Stream:          c.Stream.String(),
		State:           string(c.State),
		LastSeq:         c.LastSeq,
		LastHash:        c.LastHash,
		RechainRequired: c.RechainRequired,
		UpdatedAt:       c.UpdatedAt,
	}
	if !c.SubjectID.IsNil() {
		res.SubjectID = c.SubjectID.String()
	}
	return res
}

func toOutcomeResponse(o *models.Outcome) OutcomeResponse {
	locked := make([]string, 0, len(o.Locked))
	for _, objectID := range o.Locked {
		locked = append(locked, objectID.String())
	}
	return OutcomeResponse{
		Cursor:           toCursorResponse(&o.Cursor),
		EventsMerged:     o.EventsMerged,
		ConsentsApplied:  o.ConsentsApplied,
		DependentsLocked: o.DependentsLocked,
		Imported:         o.Imported,
		Locked:           locked,
		Restricted:       o.Restricted,
		Purged:           o.Purged,
		Skipped:          o.Skipped,
	}
}

func toReviewResponse(r *models.ReviewItem) ReviewResponse {
	return ReviewResponse{
		ID:               r.ID.String(),
		Stream:           r.Stream.String(),
		SubjectID:        r.SubjectID.String(),
		Reason:           r.Reason,
		FirstSeq:         r.FirstSeq,
		LastSeq:          r.LastSeq,
		ExpectedPrevHash: r.ExpectedPrevHash,
		ReceivedPrevHash: r.ReceivedPrevHash,
		Status:           string(r.Status),
		Resolution:       string(r.Resolution),
		Reviewer:         string(r.Reviewer),
		CreatedAt:        r.CreatedAt,
		ResolvedAt:       r.ResolvedAt,
	}
}

func toReviewListResponse(reviews []*models.ReviewItem) ReviewListResponse {
	res := ReviewListResponse{Reviews: make([]ReviewResponse, 0, len(reviews))}
	for _, r := range reviews {
		res.Reviews = append(res.Reviews, toReviewResponse(r))
	}
	return res
}
