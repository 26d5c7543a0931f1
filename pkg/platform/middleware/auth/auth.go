package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "keepsake/pkg/domain"
	"keepsake/pkg/requestcontext"
)

// ActorValidator parses and validates a bearer token.
type ActorValidator interface {
	ValidateToken(tokenString string) (*ActorClaims, error)
}

// ActorClaims is the validated, still-untyped view of an actor token.
type ActorClaims struct {
	Subject   string
	ActorType string
	Region    string
}

func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// toActor converts raw claims into a typed actor. Only human actors may call the API;
// the system actor is reserved for background transitions.
func toActor(claims *ActorClaims) (requestcontext.Actor, error) {
	subject, err := id.ParseSubjectID(claims.Subject)
	if err != nil {
		return requestcontext.Actor{}, fmt.Errorf("invalid sub: %w", err)
	}
	actorType := id.ActorType(claims.ActorType)
	if !actorType.IsHuman() {
		return requestcontext.Actor{}, fmt.Errorf("actor_type %q not allowed", claims.ActorType)
	}
	region := id.NormalizeRegion(claims.Region)
	if region.IsZero() {
		return requestcontext.Actor{}, fmt.Errorf("missing region claim")
	}
	return requestcontext.Actor{Subject: subject, Type: actorType, Region: region}, nil
}

// RequireActor validates the bearer token and stores the typed actor in the context.
func RequireActor(validator ActorValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			actor, err := toActor(claims)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - malformed token claims",
					"error", err,
					"request_id", requestcontext.RequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(ctx, actor)))
		})
	}
}

// RequireActorType rejects actors whose type is not in allowed. It must run after RequireActor.
func RequireActorType(logger *slog.Logger, allowed ...id.ActorType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			actor := requestcontext.ActorFrom(ctx)
			for _, t := range allowed {
				if actor.Type == t {
					next.ServeHTTP(w, r)
					return
				}
			}
			logger.WarnContext(ctx, "forbidden - actor type not permitted",
				"actor_type", actor.Type,
				"path", r.URL.Path,
				"request_id", requestcontext.RequestID(ctx),
			)
			writeJSONError(w, http.StatusForbidden, "forbidden", "Actor type not permitted")
		})
	}
}
