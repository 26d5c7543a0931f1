package models

// Type names a registered consent category. The set is open: types are
// added through the Registry, not by new constants.
type Type string

// Built-in consent types registered by DefaultRegistry.
const (
	TypeMemoryRetention       Type = "memory_retention"
	TypeCaregiverAccess       Type = "caregiver_access"
	TypeReflectionArchive     Type = "reflection_archive"
	TypeSafeguarding          Type = "safeguarding"
	TypeResearchParticipation Type = "research_participation"
	TypeExport                Type = "export"
)

func (t Type) String() string { return string(t) }

// Status is the lifecycle state of a consent record.
type Status string

const (
	StatusGranted  Status = "granted"
	StatusExpiring Status = "expiring" // computed only, never persisted
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// IsPersisted reports whether the status may be written to storage.
func (s Status) IsPersisted() bool {
	return s == StatusGranted || s == StatusExpired || s == StatusRevoked
}

// IsRestrictive reports whether the status forbids dependent memory from being active.
func (s Status) IsRestrictive() bool {
	return s == StatusExpired || s == StatusRevoked
}

// Method records how consent was captured.
type Method string

const (
	MethodTap          Method = "tap"
	MethodPIN          Method = "pin"
	MethodSignature    Method = "signature"
	MethodVerbalLogged Method = "verbal_logged"
	MethodQR           Method = "qr"
)

var validMethods = map[Method]bool{
	MethodTap:          true,
	MethodPIN:          true,
	MethodSignature:    true,
	MethodVerbalLogged: true,
	MethodQR:           true,
}

func (m Method) IsValid() bool {
	return validMethods[m]
}
