package handler

import (
	"time"

	"keepsake/internal/consent/models"
)

// RecordResponse is one consent version as seen by clients.
type RecordResponse struct {
	ID           string     `json:"id"`
	ConsentType  string     `json:"consent_type"`
	Status       string     `json:"status"`
	GrantedAt    time.Time  `json:"granted_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	Method       string     `json:"method"`
	Region       string     `json:"region"`
	Version      int        `json:"version"`
	ActorType    string     `json:"actor_type"`
	SupersededAt *time.Time `json:"superseded_at,omitempty"`
}

// HistoryResponse lists every version, oldest first.
type HistoryResponse struct {
	ConsentType string           `json:"consent_type"`
	Versions    []RecordResponse `json:"versions"`
}

func toRecordResponse(r *models.Record, status models.Status) RecordResponse {
	return RecordResponse{
		ID:           r.ID.String(),
		ConsentType:  r.Type.String(),
		Status:       string(status),
		GrantedAt:    r.GrantedAt,
		ExpiresAt:    r.ExpiresAt,
		RevokedAt:    r.RevokedAt,
		Method:       string(r.Method),
		Region:       r.Region.String(),
		Version:      r.Version,
		ActorType:    r.ActorType.String(),
		SupersededAt: r.SupersededAt,
	}
}

func toViewResponse(v *models.View) RecordResponse {
	return toRecordResponse(v.Record, v.Effective)
}

func toHistoryResponse(t models.Type, records []*models.Record) HistoryResponse {
	res := HistoryResponse{ConsentType: t.String(), Versions: make([]RecordResponse, 0, len(records))}
	for _, r := range records {
		res.Versions = append(res.Versions, toRecordResponse(r, r.Status))
	}
	return res
}
