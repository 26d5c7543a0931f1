package validation

import dErrors "keepsake/pkg/domain-errors"

// HTTP body limits
const (
	// MaxBodySize is the maximum allowed request body size (64 KB).
	MaxBodySize = 64 * 1024

	// MaxSyncBodySize bounds a device sync batch (4 MB).
	MaxSyncBodySize = 4 * 1024 * 1024
)

// Slice element count limits
const (
	// MaxEventTypes is the maximum number of event types in one audit query.
	MaxEventTypes = 16

	// MaxBatchEvents is the maximum number of audit events in one sync batch.
	MaxBatchEvents = 5000

	// MaxBatchObjects is the maximum number of memory objects in one sync batch.
	MaxBatchObjects = 5000

	// MaxBatchConsents is the maximum number of consent records in one sync batch.
	MaxBatchConsents = 500
)

// String element length limits
const (
	// MaxConsentTypeLength is the maximum length of a consent type name.
	MaxConsentTypeLength = 64

	// MaxAuthMethodLength is the maximum length of an erasure auth_method.
	MaxAuthMethodLength = 64

	// MaxTopicLength is the maximum length of a memory topic label.
	MaxTopicLength = 128

	// MaxContentRefLength is the maximum length of a blob key.
	MaxContentRefLength = 512

	// MaxDetailLength is the maximum length of free-text audit detail and review notes.
	MaxDetailLength = 1024
)

// CheckSliceCount validates that a slice does not exceed the maximum count.
func CheckSliceCount(fieldName string, count, max int) error {
	if count > max {
		return dErrors.Newf(dErrors.CodeValidation, "too many %s: max %d allowed", fieldName, max)
	}
	return nil
}

// CheckStringLength validates that a string does not exceed the maximum length.
func CheckStringLength(fieldName, value string, max int) error {
	if len(value) > max {
		return dErrors.Newf(dErrors.CodeValidation, "%s exceeds max length of %d", fieldName, max)
	}
	return nil
}

// CheckRequired rejects an empty value with a bad-request error.
func CheckRequired(fieldName, value string) error {
	if value == "" {
		return dErrors.New(dErrors.CodeBadRequest, fieldName+" is required")
	}
	return nil
}
