package jwttoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/platform/middleware/auth"
	"consentledger/pkg/platform/middleware/requesttime"
)

// AccessTokenClaims are the claims of an access token. Subject carries the
// caller's chain address.
type AccessTokenClaims struct {
	Env string `json:"env,omitempty"`
	jwt.RegisteredClaims
}

// JWTService issues and validates HS256 access tokens.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	tokenTTL   time.Duration
	env        string
}

func NewJWTService(signingKey, issuer, audience string, tokenTTL time.Duration) *JWTService {
	return &JWTService{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		tokenTTL:   tokenTTL,
	}
}

// SetEnv annotates issued tokens with an environment string (e.g. "demo").
func (s *JWTService) SetEnv(env string) {
	s.env = env
}

// GenerateAccessToken issues a token for subject and returns it with its jti.
func (s *JWTService) GenerateAccessToken(ctx context.Context, subject id.Address) (string, string, error) {
	if _, err := id.ParseAddress(subject.String()); err != nil {
		return "", "", dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid token subject")
	}

	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	jti := hex.EncodeToString(b)
	now := requesttime.Now(ctx)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AccessTokenClaims{
		Env: s.env,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        jti,
		},
	})
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", "", err
	}
	return signed, jti, nil
}

// ParseAccessToken verifies signature, algorithm, expiry, issuer and audience.
func (s *JWTService) ParseAccessToken(tokenString string) (*AccessTokenClaims, error) {
	if tokenString == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "empty token")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, dErrors.New(dErrors.CodeUnauthorized, "token expired")
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token issuer")
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token audience")
		}
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}

	claims, ok := parsed.Claims.(*AccessTokenClaims)
	if !ok || !parsed.Valid {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// ValidateToken satisfies auth.JWTValidator.
func (s *JWTService) ValidateToken(tokenString string) (*auth.JWTClaims, error) {
	claims, err := s.ParseAccessToken(tokenString)
	if err != nil {
		return nil, err
	}
	return &auth.JWTClaims{Subject: claims.Subject, JTI: claims.ID}, nil
}
