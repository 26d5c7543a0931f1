// Package jwttoken issues and validates the HS256 actor tokens the API
// authenticates with. A token names the subject, the actor type acting for it
// and the region the caller's data resides in.
package jwttoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "keepsake/pkg/domain"
	dErrors "keepsake/pkg/domain-errors"
	"keepsake/pkg/requestcontext"
)

// ActorTokenClaims are the claims of an actor token. The subject is the
// registered "sub" claim.
type ActorTokenClaims struct {
	ActorType string `json:"actor_type"`
	Region    string `json:"region"`
	jwt.RegisteredClaims
}

// JWTService handles token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
	now        func() time.Time
}

func NewJWTService(signingKey, issuer, audience string, tokenTTL time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
		now:        time.Now,
	}
}

// SetClock replaces the clock used to check expiry.
func (s *JWTService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Issue signs a token for actor. The issue time comes from the request clock.
func (s *JWTService) Issue(ctx context.Context, subject id.SubjectID, actor id.ActorType, region id.Region) (string, error) {
	if subject.IsNil() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject cannot be empty")
	}
	if !actor.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid actor type")
	}
	if region.IsZero() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "region cannot be empty")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	now := requestcontext.Now(ctx)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, ActorTokenClaims{
		ActorType: string(actor),
		Region:    region.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        hex.EncodeToString(b),
		},
	})
	return token.SignedString(s.signingKey)
}

func (s *JWTService) ValidateToken(tokenString string) (*ActorTokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &ActorTokenClaims{}, func(token *jwt.Token) (any, error) {
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		}
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token")
	}

	claims, ok := parsed.Claims.(*ActorTokenClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "invalid token claims")
	}
	return claims, nil
}
