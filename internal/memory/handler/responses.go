package handler

import (
	"time"

	"keepsake/internal/memory/models"
	id "keepsake/pkg/domain"
)

// ObjectResponse is object metadata. Content is never returned.
type ObjectResponse struct {
	ID             string     `json:"id"`
	Scope          string     `json:"scope"`
	ConsentType    string     `json:"consent_type"`
	ConsentVersion int        `json:"consent_version"`
	State          string     `json:"state"`
	Topic          string     `json:"topic,omitempty"`
	ContentRef     string     `json:"content_ref"`
	LockReason     string     `json:"lock_reason,omitempty"`
	Region         string     `json:"region"`
	CreatedAt      time.Time  `json:"created_at"`
	LockedAt       *time.Time `json:"locked_at,omitempty"`
	PurgeAfter     *time.Time `json:"purge_after,omitempty"`
	PurgedAt       *time.Time `json:"purged_at,omitempty"`
}

type ListResponse struct {
	Objects []ObjectResponse `json:"objects"`
}

type CanWriteResponse struct {
	Scope   string `json:"scope"`
	Allowed bool   `json:"allowed"`
}

type EraseResponse struct {
	Mode     string   `json:"mode"`
	Purged   []string `json:"purged"`
	Locked   []string `json:"locked"`
	Deferred []string `json:"deferred"`
}

func toObjectResponse(o *models.Object) ObjectResponse {
	return ObjectResponse{
		ID:             o.ID.String(),
		Scope:          string(o.Scope),
		ConsentType:    o.ConsentRef.Type.String(),
		ConsentVersion: o.ConsentRef.Version,
		State:          string(o.State),
		Topic:          o.Topic,
		ContentRef:     o.ContentRef,
		LockReason:     string(o.LockReason),
		Region:         o.Region.String(),
		CreatedAt:      o.CreatedAt,
		LockedAt:       o.LockedAt,
		PurgeAfter:     o.PurgeAfter,
		PurgedAt:       o.PurgedAt,
	}
}

func toListResponse(objects []*models.Object) ListResponse {
	res := ListResponse{Objects: make([]ObjectResponse, 0, len(objects))}
	for _, o := range objects {
		res.Objects = append(res.Objects, toObjectResponse(o))
	}
	return res
}

func toEraseResponse(r *models.EraseResult) EraseResponse {
	return EraseResponse{
		Mode:     string(r.Mode),
		Purged:   idStrings(r.Purged),
		Locked:   idStrings(r.Locked),
		Deferred: idStrings(r.Deferred),
	}
}

func idStrings(ids []id.ObjectID) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		out = append(out, v.String())
	}
	return out
}
