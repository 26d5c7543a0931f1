// Package middleware enforces per-actor budgets on authenticated routes.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"keepsake/internal/ratelimit/models"
	ratelimitservice "keepsake/internal/ratelimit/service"
	"keepsake/pkg/platform/httputil"
	"keepsake/pkg/requestcontext"
)

type Limiter interface {
	Check(ctx context.Context, key string, class models.Class, cost int, now time.Time) (*ratelimitservice.Decision, error)
}

type Middleware struct {
	limiter Limiter
	logger  *slog.Logger
}

func New(limiter Limiter, logger *slog.Logger) *Middleware {
	return &Middleware{limiter: limiter, logger: logger}
}

// RateLimit spends one request from the caller's budget for class. It runs
// after RequireActor and fails open when the limiter errors.
func (m *Middleware) RateLimit(class models.Class) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if m == nil || m.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			actor := requestcontext.ActorFrom(ctx)
			if actor.IsZero() {
				next.ServeHTTP(w, r)
				return
			}

			key := models.Key(actor.Type, actor.Subject.String(), class)
			decision, err := m.limiter.Check(ctx, key, class, 1, requestcontext.Now(ctx))
			if err != nil {
				m.logger.ErrorContext(ctx, "rate limit check failed", "error", err, "class", class)
				next.ServeHTTP(w, r)
				return
			}
			if decision == nil {
				next.ServeHTTP(w, r)
				return
			}

			addRateLimitHeaders(w, decision)
			if !decision.Allowed {
				m.logger.InfoContext(ctx, "rate limit exceeded",
					"class", class,
					"actor_type", actor.Type,
					"retry_after", decision.RetryAfter,
				)
				writeRateLimitExceeded(w, decision.Result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func addRateLimitHeaders(w http.ResponseWriter, d *ratelimitservice.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Degraded {
		w.Header().Set("X-RateLimit-Status", "degraded")
	}
}

func writeRateLimitExceeded(w http.ResponseWriter, result *models.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
	httputil.WriteJSON(w, http.StatusTooManyRequests, &models.ExceededResponse{
		Error:      "rate_limit_exceeded",
		Message:    "too many requests; retry later",
		RetryAfter: result.RetryAfter,
	})
}
