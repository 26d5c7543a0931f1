package models

import (
	"strings"

	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/validation"
)

// EraseMode selects what an erasure request removes.
type EraseMode string

const (
	EraseFull           EraseMode = "full"
	ErasePartialTopic   EraseMode = "partial_topic"
	EraseReflectionOnly EraseMode = "reflection_only"
	EraseArchive        EraseMode = "archive"
)

func (m EraseMode) IsValid() bool {
	switch m {
	case EraseFull, ErasePartialTopic, EraseReflectionOnly, EraseArchive:
		return true
	}
	return false
}

// EraseRequest is a right-to-be-forgotten instruction.
type EraseRequest struct {
	InitiatorType id.ActorType
	AuthMethod    string
	Mode          EraseMode
	TargetTopic   string
	Region        id.Region // caller residency; tags erasure_requested
}

func (r *EraseRequest) Normalize() {
	r.AuthMethod = strings.TrimSpace(r.AuthMethod)
	r.Mode = EraseMode(strings.ToLower(strings.TrimSpace(string(r.Mode))))
	r.TargetTopic = strings.TrimSpace(r.TargetTopic)
}

// Validate enforces the request shape. A missing auth method is a bad request.
func (r *EraseRequest) Validate() error {
	if err := validation.CheckRequired("auth_method", r.AuthMethod); err != nil {
		return err
	}
	if err := validation.CheckStringLength("auth_method", r.AuthMethod, validation.MaxAuthMethodLength); err != nil {
		return err
	}
	if !r.InitiatorType.IsHuman() {
		return dErrors.New(dErrors.CodeValidation, "initiator_type must be subject, caregiver or staff")
	}
	if !r.Mode.IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid erasure mode: "+string(r.Mode))
	}
	if r.Mode == ErasePartialTopic && r.TargetTopic == "" {
		return dErrors.New(dErrors.CodeValidation, "target_topic is required for partial_topic erasure")
	}
	return validation.CheckStringLength("target_topic", r.TargetTopic, validation.MaxTopicLength)
}

// Detail is the audit detail recorded with erasure_requested.
func (r *EraseRequest) Detail() string {
	d := "mode=" + string(r.Mode) + " initiator=" + r.InitiatorType.String() + " auth=" + r.AuthMethod
	if r.TargetTopic != "" {
		d += " topic=" + r.TargetTopic
	}
	return d
}

// EraseResult reports what an erasure changed.
type EraseResult struct {
	Mode     EraseMode
	Purged   []id.ObjectID
	Locked   []id.ObjectID
	Deferred []id.ObjectID // blob delete failed; left locked for the purge sweep
}
