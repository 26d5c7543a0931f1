package jwttoken

import (
	"keepsake/pkg/platform/middleware/auth"
)

func ToActorClaims(claims *ActorTokenClaims) *auth.ActorClaims {
	return &auth.ActorClaims{
		Subject:   claims.Subject,
		ActorType: claims.ActorType,
		Region:    claims.Region,
	}
}

// JWTServiceAdapter lets the auth middleware validate actor tokens.
type JWTServiceAdapter struct {
	service *JWTService
}

func NewJWTServiceAdapter(service *JWTService) *JWTServiceAdapter {
	return &JWTServiceAdapter{service: service}
}

func (a *JWTServiceAdapter) ValidateToken(tokenString string) (*auth.ActorClaims, error) {
	claims, err := a.service.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	return ToActorClaims(claims), nil
}
