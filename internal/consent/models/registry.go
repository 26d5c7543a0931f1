package models

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	dErrors "keepsake/pkg/domain-errors"
)

const (
	DefaultGrace         = 7 * 24 * time.Hour
	DefaultReminderLead  = 7 * 24 * time.Hour
	DefaultSweepInterval = 24 * time.Hour
)

// TypePolicy holds the per-type timing rules.
type TypePolicy struct {
	Type          Type
	DefaultExpiry time.Duration
	Grace         time.Duration
	ReminderLead  time.Duration
	SweepInterval time.Duration
	// ExportGate marks types whose active grant permits cross-region audit reads.
	ExportGate bool
}

func (p TypePolicy) withDefaults() TypePolicy {
	if p.Grace <= 0 {
		p.Grace = DefaultGrace
	}
	if p.ReminderLead <= 0 {
		p.ReminderLead = DefaultReminderLead
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = DefaultSweepInterval
	}
	return p
}

// Registry maps consent types to their policies. Safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[Type]TypePolicy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[Type]TypePolicy)}
}

// DefaultRegistry registers the six built-in types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range []TypePolicy{
		{Type: TypeMemoryRetention, DefaultExpiry: 90 * 24 * time.Hour},
		{Type: TypeCaregiverAccess, DefaultExpiry: 180 * 24 * time.Hour},
		{Type: TypeReflectionArchive, DefaultExpiry: 365 * 24 * time.Hour},
		{Type: TypeSafeguarding, DefaultExpiry: 365 * 24 * time.Hour},
		{Type: TypeResearchParticipation, DefaultExpiry: 180 * 24 * time.Hour},
		{Type: TypeExport, DefaultExpiry: 30 * 24 * time.Hour, ExportGate: true},
	} {
		_ = r.Register(p)
	}
	return r
}

// Register adds or replaces a policy.
func (r *Registry) Register(p TypePolicy) error {
	if p.Type == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "consent type name required")
	}
	if p.DefaultExpiry <= 0 {
		return dErrors.Newf(dErrors.CodeInvalidInput, "consent type %s needs a positive default expiry", p.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[p.Type] = p.withDefaults()
	return nil
}

// Policy returns the policy for t or a validation error for unknown types.
func (r *Registry) Policy(t Type) (TypePolicy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[t]
	if !ok {
		return TypePolicy{}, dErrors.Newf(dErrors.CodeBadRequest, "unknown consent type: %s", t)
	}
	return p, nil
}

func (r *Registry) IsRegistered(t Type) bool {
	_, err := r.Policy(t)
	return err == nil
}

// Types lists registered types in name order.
func (r *Registry) Types() []Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Type, 0, len(r.policies))
	for t := range r.policies {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExportGates lists the types whose grant permits cross-region export.
func (r *Registry) ExportGates() []Type {
	var out []Type
	for _, t := range r.Types() {
		if p, _ := r.Policy(t); p.ExportGate {
			out = append(out, t)
		}
	}
	return out
}

type policyJSON struct {
	DefaultExpiry string `json:"default_expiry"`
	Grace         string `json:"grace"`
	ReminderLead  string `json:"reminder_lead"`
	SweepInterval string `json:"sweep_interval"`
	ExportGate    *bool  `json:"export_gate"`
}

// ApplyOverrides merges a JSON object keyed by type name into the registry.
// Unknown types are registered, which is how new types are added without code.
//
//	{"memory_retention":{"default_expiry":"2160h","grace":"168h"},"bereavement":{"default_expiry":"720h"}}
func (r *Registry) ApplyOverrides(raw string) error {
	if raw == "" {
		return nil
	}
	var in map[string]policyJSON
	if err := json.Unmarshal([]byte(raw), &in); err != nil {
		return fmt.Errorf("parse consent policies: %w", err)
	}
	for name, pj := range in {
		t := Type(name)
		p, err := r.Policy(t)
		if err != nil {
			p = TypePolicy{Type: t}
		}
		for _, f := range []struct {
			raw string
			dst *time.Duration
		}{
			{pj.DefaultExpiry, &p.DefaultExpiry},
			{pj.Grace, &p.Grace},
			{pj.ReminderLead, &p.ReminderLead},
			{pj.SweepInterval, &p.SweepInterval},
		} {
			if f.raw == "" {
				continue
			}
			d, err := time.ParseDuration(f.raw)
			if err != nil {
				return fmt.Errorf("consent policy %s: %w", name, err)
			}
			*f.dst = d
		}
		if pj.ExportGate != nil {
			p.ExportGate = *pj.ExportGate
		}
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
