package handler

import (
	"strings"

	"keepsake/internal/consent/models"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/platform/validation"
)

// GrantRequest captures how consent was given. Region defaults to the
// caller's token region when omitted.
type GrantRequest struct {
	Method string `json:"method"`
	Region string `json:"region,omitempty"`
}

func (r *GrantRequest) Normalize() {
	if r == nil {
		return
	}
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
	r.Region = strings.ToLower(strings.TrimSpace(r.Region))
}

func (r *GrantRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validateMethod(r.Method)
}

// RenewRequest carries the capture method of the renewal.
type RenewRequest struct {
	Method string `json:"method"`
}

func (r *RenewRequest) Normalize() {
	if r == nil {
		return
	}
	r.Method = strings.ToLower(strings.TrimSpace(r.Method))
}

func (r *RenewRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validateMethod(r.Method)
}

func validateMethod(method string) error {
	if err := validation.CheckRequired("method", method); err != nil {
		return err
	}
	if !models.Method(method).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "invalid consent method: "+method)
	}
	return nil
}

// parseType reads the {type} path segment. Registration is checked by the service.
func parseType(raw string) (models.Type, error) {
	t := strings.ToLower(strings.TrimSpace(raw))
	if err := validation.CheckRequired("consent type", t); err != nil {
		return "", err
	}
	if err := validation.CheckStringLength("consent type", t, validation.MaxConsentTypeLength); err != nil {
		return "", err
	}
	return models.Type(t), nil
}
