// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets these values; services and workers read them. Keeping the package free
// of net/http lets the scheduler and reconciliation engine share the same accessors.
//
// Usage in tests (inject values):
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithActor(ctx, requestcontext.Actor{Subject: subjectID, Type: id.ActorSubject})
package requestcontext

import (
	"context"
	"time"

	id "keepsake/pkg/domain"
)

// Context key types (unexported for encapsulation).
type (
	actorKey       struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
	userAgentKey   struct{}
	deviceLabelKey struct{}
	deviceIDKey    struct{}
)

// Actor is the authenticated caller attached by the auth middleware.
type Actor struct {
	Subject id.SubjectID
	Type    id.ActorType
	Region  id.Region
}

// IsZero reports whether no actor was attached.
func (a Actor) IsZero() bool {
	return a.Subject.IsNil() && a.Type == ""
}

// SystemActor is used by background workers acting on behalf of no caller.
func SystemActor(region id.Region) Actor {
	return Actor{Type: id.ActorSystem, Region: region}
}

// -----------------------------------------------------------------------------
// Auth context
// -----------------------------------------------------------------------------

// ActorFrom retrieves the authenticated actor. Returns the zero Actor if not set.
func ActorFrom(ctx context.Context) Actor {
	if a, ok := ctx.Value(actorKey{}).(Actor); ok {
		return a
	}
	return Actor{}
}

// WithActor injects the authenticated actor into the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// -----------------------------------------------------------------------------
// Request metadata
// -----------------------------------------------------------------------------

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// UserAgent retrieves the User-Agent from the context.
func UserAgent(ctx context.Context) string {
	if ua, ok := ctx.Value(userAgentKey{}).(string); ok {
		return ua
	}
	return ""
}

// WithUserAgent injects the raw User-Agent into the context.
func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey{}, ua)
}

// DeviceLabel retrieves the human-readable device label (e.g. "Android/Chrome").
func DeviceLabel(ctx context.Context) string {
	if label, ok := ctx.Value(deviceLabelKey{}).(string); ok {
		return label
	}
	return ""
}

// WithDeviceLabel injects a device label into the context.
func WithDeviceLabel(ctx context.Context, label string) context.Context {
	return context.WithValue(ctx, deviceLabelKey{}, label)
}

// DeviceID retrieves the self-assigned device identifier sent by offline clients.
func DeviceID(ctx context.Context) string {
	if d, ok := ctx.Value(deviceIDKey{}).(string); ok {
		return d
	}
	return ""
}

// WithDeviceID injects the device identifier into the context.
func WithDeviceID(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, deviceIDKey{}, device)
}

// -----------------------------------------------------------------------------
// Request time
// -----------------------------------------------------------------------------

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(requestTimeKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context. Workers use it to keep
// one "now" for a whole sweep; tests use it to move the clock by days.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, requestTimeKey{}, t)
}
