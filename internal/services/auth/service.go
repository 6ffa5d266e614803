package auth

import (
	"context"
	"fmt"
	"strings"
)

// Service validates bearer tokens issued by the platform's identity
// provider. Token issuance and refresh live with that provider; this
// backend only needs to recognize a valid access token and resolve the
// caller's identity.
type Service struct {
	jwt *JWTManager
}

func NewService(jwtManager *JWTManager) *Service {
	return &Service{jwt: jwtManager}
}

func (s *Service) ValidateAccessToken(_ context.Context, accessToken string) (AccessClaims, error) {
	if s.jwt == nil {
		return AccessClaims{}, fmt.Errorf("jwt manager is nil")
	}
	if strings.TrimSpace(accessToken) == "" {
		return AccessClaims{}, ErrUnauthorized
	}

	return s.jwt.ParseAccessToken(accessToken)
}
