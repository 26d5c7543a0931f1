package handler

import (
	"strings"
	"time"

	auditmodels "keepsake/internal/audit/models"
	auditservice "keepsake/internal/audit/service"
	consentmodels "keepsake/internal/consent/models"
	memorymodels "keepsake/internal/memory/models"
	"keepsake/internal/reconcile/models"
	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/validation"
)

// BatchRequest is the body of POST /v1/sync/{stream}. The stream comes from
// the path and the subject from the token, never from the body.
type BatchRequest struct {
	Events   []auditservice.EventResponse `json:"events"`
	Consents []ConsentPayload             `json:"consents"`
	Objects  []ObjectPayload              `json:"objects"`
}

// ConsentPayload is one locally held consent version.
type ConsentPayload struct {
	ID          string     `json:"id"`
	ConsentType string     `json:"consent_type"`
	Status      string     `json:"status"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	Method      string     `json:"method"`
	Region      string     `json:"region"`
	Version     int        `json:"version"`
	ActorType   string     `json:"actor_type"`
	CreatedAt   time.Time  `json:"created_at"`
}

// ObjectPayload is one memory object captured on the device.
type ObjectPayload struct {
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
	UpdatedAt      time.Time  `json:"updated_at"`
}

// NewBatchRequest encodes a batch for shipping. Devices use it to build the
// request body from their replica.
func NewBatchRequest(b *models.Batch) BatchRequest {
	req := BatchRequest{
		Events:   make([]auditservice.EventResponse, 0, len(b.Events)),
		Consents: make([]ConsentPayload, 0, len(b.Consents)),
		Objects:  make([]ObjectPayload, 0, len(b.Objects)),
	}
	for i := range b.Events {
		req.Events = append(req.Events, auditservice.ToResponse(&b.Events[i]))
	}
	for _, r := range b.Consents {
		req.Consents = append(req.Consents, ConsentPayload{
			ID:          r.ID.String(),
			ConsentType: r.Type.String(),
			Status:      string(r.Status),
			GrantedAt:   r.GrantedAt,
			ExpiresAt:   r.ExpiresAt,
			RevokedAt:   r.RevokedAt,
			Method:      string(r.Method),
			Region:      r.Region.String(),
			Version:     r.Version,
			ActorType:   string(r.ActorType),
			CreatedAt:   r.CreatedAt,
		})
	}
	for _, o := range b.Objects {
		req.Objects = append(req.Objects, ObjectPayload{
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
			UpdatedAt:      o.UpdatedAt,
		})
	}
	return req
}

func (r *BatchRequest) Normalize() {
	if r == nil {
		return
	}
	for i := range r.Consents {
		r.Consents[i].ConsentType = strings.ToLower(strings.TrimSpace(r.Consents[i].ConsentType))
	}
	for i := range r.Objects {
		r.Objects[i].Topic = strings.ToLower(strings.TrimSpace(r.Objects[i].Topic))
		r.Objects[i].ContentRef = strings.TrimSpace(r.Objects[i].ContentRef)
	}
}

func (r *BatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	switch {
	case len(r.Events) > validation.MaxBatchEvents:
		return dErrors.Newf(dErrors.CodeValidation, "at most %d events per batch", validation.MaxBatchEvents)
	case len(r.Consents) > validation.MaxBatchConsents:
		return dErrors.Newf(dErrors.CodeValidation, "at most %d consents per batch", validation.MaxBatchConsents)
	case len(r.Objects) > validation.MaxBatchObjects:
		return dErrors.Newf(dErrors.CodeValidation, "at most %d objects per batch", validation.MaxBatchObjects)
	}
	for i := range r.Events {
		if err := validation.CheckStringLength("detail", r.Events[i].Detail, validation.MaxDetailLength); err != nil {
			return err
		}
	}
	for _, c := range r.Consents {
		if err := validation.CheckRequired("consent_type", c.ConsentType); err != nil {
			return err
		}
		if c.Version < 1 {
			return dErrors.New(dErrors.CodeValidation, "consent version must be positive")
		}
	}
	for _, o := range r.Objects {
		if err := validation.CheckRequired("content_ref", o.ContentRef); err != nil {
			return err
		}
		if err := validation.CheckStringLength("content_ref", o.ContentRef, validation.MaxContentRefLength); err != nil {
			return err
		}
		if err := validation.CheckStringLength("topic", o.Topic, validation.MaxTopicLength); err != nil {
			return err
		}
	}
	return nil
}

// toBatch parses the wire form into a batch for stream and subject.
func (r *BatchRequest) toBatch(stream id.StreamID, subject id.SubjectID) (*models.Batch, error) {
	b := &models.Batch{
		Stream:    stream,
		SubjectID: subject,
		Events:    make([]auditmodels.Event, 0, len(r.Events)),
		Consents:  make([]*consentmodels.Record, 0, len(r.Consents)),
		Objects:   make([]*memorymodels.Object, 0, len(r.Objects)),
	}
	for _, e := range r.Events {
		event, err := e.ToEvent()
		if err != nil {
			return nil, err
		}
		b.Events = append(b.Events, event)
	}
	for _, c := range r.Consents {
		record, err := c.toRecord(subject)
		if err != nil {
			return nil, err
		}
		b.Consents = append(b.Consents, record)
	}
	for _, o := range r.Objects {
		object, err := o.toObject(subject, stream)
		if err != nil {
			return nil, err
		}
		b.Objects = append(b.Objects, object)
	}
	return b, nil
}

func (c ConsentPayload) toRecord(subject id.SubjectID) (*consentmodels.Record, error) {
	recordID, err := id.ParseRecordID(c.ID)
	if err != nil {
		return nil, err
	}
	status := consentmodels.Status(c.Status)
	if !status.IsPersisted() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid consent status: "+c.Status)
	}
	method := consentmodels.Method(c.Method)
	if !method.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid consent method: "+c.Method)
	}
	actor := id.ActorType(c.ActorType)
	if !actor.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid actor type: "+c.ActorType)
	}
	if c.Region == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "consent region is required")
	}
	return &consentmodels.Record{
		ID:        recordID,
		SubjectID: subject,
		Type:      consentmodels.Type(c.ConsentType),
		Status:    status,
		GrantedAt: c.GrantedAt.UTC(),
		ExpiresAt: c.ExpiresAt.UTC(),
		RevokedAt: c.RevokedAt,
		Method:    method,
		Region:    id.Region(c.Region),
		Version:   c.Version,
		ActorType: actor,
		CreatedAt: c.CreatedAt.UTC(),
	}, nil
}

func (o ObjectPayload) toObject(owner id.SubjectID, stream id.StreamID) (*memorymodels.Object, error) {
	objectID, err := id.ParseObjectID(o.ID)
	if err != nil {
		return nil, err
	}
	scope := memorymodels.Scope(o.Scope)
	if !scope.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid scope: "+o.Scope)
	}
	state := memorymodels.State(o.State)
	if !state.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "invalid state: "+o.State)
	}
	return &memorymodels.Object{
		ID:           objectID,
		OwnerID:      owner,
		Scope:        scope,
		ConsentRef:   memorymodels.ConsentRef{Type: consentmodels.Type(o.ConsentType), Version: o.ConsentVersion},
		State:        state,
		Topic:        o.Topic,
		ContentRef:   o.ContentRef,
		LockReason:   memorymodels.LockReason(o.LockReason),
		OriginStream: stream,
		Region:       id.Region(o.Region),
		CreatedAt:    o.CreatedAt.UTC(),
		LockedAt:     o.LockedAt,
		PurgeAfter:   o.PurgeAfter,
		UpdatedAt:    o.UpdatedAt.UTC(),
	}, nil
}

// ResolveRequest is the body of POST /v1/sync/reviews/{id}/resolve.
type ResolveRequest struct {
	Resolution string `json:"resolution"`
}

func (r *ResolveRequest) Normalize() {
	if r == nil {
		return
	}
	r.Resolution = strings.ToLower(strings.TrimSpace(r.Resolution))
}

func (r *ResolveRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.CheckRequired("resolution", r.Resolution); err != nil {
		return err
	}
	if !models.Resolution(r.Resolution).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "resolution must be discard or rechain")
	}
	return nil
}
