package handler

import (
	"net/url"
	"strconv"
	"strings"

	consentmodels "keepsake/internal/consent/models"
	"keepsake/internal/memory/models"
	dErrors "keepsake/pkg/domain-errors"
	strutil "keepsake/pkg/platform/strings"
	"keepsake/pkg/platform/validation"
)

// WriteRequest registers content already stored by the client under ContentRef.
// ConsentType defaults to the scope's required consent; a zero ConsentVersion
// means the current version.
type WriteRequest struct {
	Scope          string `json:"scope"`
	ConsentType    string `json:"consent_type,omitempty"`
	ConsentVersion int    `json:"consent_version,omitempty"`
	ContentRef     string `json:"content_ref"`
	Topic          string `json:"topic,omitempty"`
}

func (r *WriteRequest) Normalize() {
	if r == nil {
		return
	}
	r.Scope = strings.ToLower(strings.TrimSpace(r.Scope))
	r.ConsentType = strings.ToLower(strings.TrimSpace(r.ConsentType))
	r.ContentRef = strings.TrimSpace(r.ContentRef)
	r.Topic = strings.ToLower(strings.TrimSpace(r.Topic))
}

func (r *WriteRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validateScope(r.Scope); err != nil {
		return err
	}
	if err := validation.CheckRequired("content_ref", r.ContentRef); err != nil {
		return err
	}
	if err := validation.CheckStringLength("consent_type", r.ConsentType, validation.MaxConsentTypeLength); err != nil {
		return err
	}
	if r.ConsentVersion < 0 {
		return dErrors.New(dErrors.CodeValidation, "consent_version must not be negative")
	}
	return nil
}

func (r *WriteRequest) ref() models.ConsentRef {
	return models.ConsentRef{Type: consentmodels.Type(r.ConsentType), Version: r.ConsentVersion}
}

// EraseRequest is the body of POST /v1/erasure. InitiatorType defaults to
// the caller's actor type and may not claim a different one.
type EraseRequest struct {
	InitiatorType string `json:"initiator_type,omitempty"`
	AuthMethod    string `json:"auth_method"`
	Mode          string `json:"mode"`
	TargetTopic   string `json:"target_topic,omitempty"`
}

func (r *EraseRequest) Normalize() {
	if r == nil {
		return
	}
	r.InitiatorType = strings.ToLower(strings.TrimSpace(r.InitiatorType))
	r.AuthMethod = strings.TrimSpace(r.AuthMethod)
	r.Mode = strings.ToLower(strings.TrimSpace(r.Mode))
	r.TargetTopic = strings.ToLower(strings.TrimSpace(r.TargetTopic))
}

// Validate checks the body shape only; mode rules live on models.EraseRequest.
func (r *EraseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.CheckRequired("auth_method", r.AuthMethod); err != nil {
		return err
	}
	return validation.CheckRequired("mode", r.Mode)
}

func validateScope(scope string) error {
	if err := validation.CheckRequired("scope", scope); err != nil {
		return err
	}
	if !models.Scope(scope).IsValid() {
		return dErrors.Newf(dErrors.CodeValidation, "invalid scope: %s", scope)
	}
	return nil
}

// parseListFilter reads ?state=active,locked&topic=&limit= for GET /v1/memory.
func parseListFilter(q url.Values) (models.ListFilter, error) {
	var filter models.ListFilter
	for _, raw := range strutil.SplitList(q["state"]) {
		state := models.State(raw)
		if !state.IsValid() {
			return filter, dErrors.Newf(dErrors.CodeValidation, "invalid state: %s", raw)
		}
		filter.States = append(filter.States, state)
	}
	filter.Topic = strings.ToLower(strings.TrimSpace(q.Get("topic")))
	if err := validation.CheckStringLength("topic", filter.Topic, validation.MaxTopicLength); err != nil {
		return filter, err
	}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return filter, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}
