package domain

import "strings"

// ActorType identifies who initiated a state transition.
type ActorType string

const (
	ActorSubject   ActorType = "subject"
	ActorCaregiver ActorType = "caregiver"
	ActorStaff     ActorType = "staff"
	ActorSystem    ActorType = "system"
)

// IsValid returns true if the actor type is a known valid value.
func (a ActorType) IsValid() bool {
	switch a {
	case ActorSubject, ActorCaregiver, ActorStaff, ActorSystem:
		return true
	}
	return false
}

// IsHuman reports whether the actor may initiate requests through the public API.
// The system actor is reserved for scheduler and reconciliation transitions.
func (a ActorType) IsHuman() bool {
	return a == ActorSubject || a == ActorCaregiver || a == ActorStaff
}

// String returns the string representation of the actor type.
func (a ActorType) String() string {
	return string(a)
}

// Region is a data-residency tag. Audit events are physically partitioned by it.
type Region string

// NormalizeRegion lower-cases and trims a region tag.
func NormalizeRegion(s string) Region {
	return Region(strings.ToLower(strings.TrimSpace(s)))
}

// IsZero reports whether no region was supplied.
func (r Region) IsZero() bool {
	return r == ""
}

// String returns the string representation of the region.
func (r Region) String() string {
	return string(r)
}
