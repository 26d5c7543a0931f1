// Package models holds the rate limit vocabulary shared by the stores and middleware.
package models

import (
	"fmt"
	"strings"
	"time"

	id "keepsake/pkg/domain"
)

// Class groups routes that share one budget per actor.
type Class string

const (
	// ClassAPI covers consent, memory and audit routes.
	ClassAPI Class = "api"
	// ClassSync covers device batch pushes and cursor reads.
	ClassSync Class = "sync"
)

func (c Class) IsValid() bool {
	return c == ClassAPI || c == ClassSync
}

// Limit is a sliding-window budget.
type Limit struct {
	Requests int
	Window   time.Duration
}

func (l Limit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when denied
}

// NewResult derives RetryAfter from resetAt when the request was denied.
func NewResult(allowed bool, limit, remaining int, resetAt, now time.Time) *Result {
	if remaining < 0 {
		remaining = 0
	}
	r := &Result{Allowed: allowed, Limit: limit, Remaining: remaining, ResetAt: resetAt}
	if !allowed {
		r.RetryAfter = int(resetAt.Sub(now).Round(time.Second).Seconds())
		if r.RetryAfter < 1 {
			r.RetryAfter = 1
		}
	}
	return r
}

type ExceededResponse struct {
	Error      string `json:"error"`
	Message    string `json:"error_description"`
	RetryAfter int    `json:"retry_after"`
}

// Key names one actor's bucket for one class.
func Key(actorType id.ActorType, subject string, class Class) string {
	return fmt.Sprintf("actor:%s:%s:%s",
		sanitizeKeySegment(string(actorType)),
		sanitizeKeySegment(subject),
		class,
	)
}

// sanitizeKeySegment escapes '_' then ':' so no two inputs collide on the
// segment delimiter.
func sanitizeKeySegment(s string) string {
	s = strings.ReplaceAll(s, "_", "__")
	return strings.ReplaceAll(s, ":", "_c")
}
