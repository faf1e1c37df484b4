package jwttoken

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/platform/middleware/requesttime"
	"consentledger/pkg/testutil"
)

var jwtService = NewJWTService("test-signing-key", "test-issuer", "test-audience", time.Minute)

func Test_GenerateAccessToken(t *testing.T) {
	token, jti, err := jwtService.GenerateAccessToken(context.Background(), testutil.TestIDs.Alice)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Len(t, jti, 32)

	claims, err := jwtService.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestIDs.Alice.String(), claims.Subject)
	assert.Equal(t, jti, claims.ID)
	assert.WithinDuration(t, time.Now().Add(time.Minute), claims.ExpiresAt.Time, 5*time.Second)
}

func Test_GenerateAccessToken_RejectsMalformedSubject(t *testing.T) {
	_, _, err := jwtService.GenerateAccessToken(context.Background(), id.Address("not-an-address"))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidIntent))
}

func Test_ValidateToken_MapsToMiddlewareClaims(t *testing.T) {
	token, jti, err := jwtService.GenerateAccessToken(context.Background(), testutil.TestIDs.Bob)
	require.NoError(t, err)

	claims, err := jwtService.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestIDs.Bob.String(), claims.Subject)
	assert.Equal(t, jti, claims.JTI)
}

func Test_ValidateToken_InvalidToken(t *testing.T) {
	_, err := jwtService.ValidateToken("invalid-token-string")
	require.ErrorContains(t, err, "invalid token")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func Test_ValidateToken_ExpiredToken(t *testing.T) {
	past := requesttime.WithTime(context.Background(), time.Now().Add(-time.Hour))
	token, _, err := jwtService.GenerateAccessToken(past, testutil.TestIDs.Alice)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.ErrorContains(t, err, "token expired")
}

func Test_ValidateToken_RejectsForeignIssuerAndAudience(t *testing.T) {
	cases := map[string]struct {
		svc  *JWTService
		want string
	}{
		"issuer":   {NewJWTService("test-signing-key", "other-issuer", "test-audience", time.Minute), "invalid token issuer"},
		"audience": {NewJWTService("test-signing-key", "test-issuer", "other-audience", time.Minute), "invalid token audience"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			token, _, err := tc.svc.GenerateAccessToken(context.Background(), testutil.TestIDs.Alice)
			require.NoError(t, err)

			_, err = jwtService.ValidateToken(token)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func Test_ValidateToken_RejectsWrongKey(t *testing.T) {
	other := NewJWTService("another-key", "test-issuer", "test-audience", time.Minute)
	token, _, err := other.GenerateAccessToken(context.Background(), testutil.TestIDs.Alice)
	require.NoError(t, err)

	_, err = jwtService.ValidateToken(token)
	require.Error(t, err)
}

func Test_ValidateToken_RejectsAlgorithmConfusion(t *testing.T) {
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testutil.TestIDs.Alice.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "test-issuer",
			Audience:  []string{"test-audience"},
			ID:        "jti",
		},
	}

	cases := []struct {
		name       string
		signMethod jwt.SigningMethod
		signKey    any
	}{
		{"hs512 header rejected", jwt.SigningMethodHS512, []byte("test-signing-key")},
		{"alg none rejected", jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			tokenString, err := jwt.NewWithClaims(tt.signMethod, claims).SignedString(tt.signKey)
			require.NoError(t, err)

			_, err = jwtService.ValidateToken(tokenString)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
		})
	}
}

func Test_SetEnvAnnotatesTokens(t *testing.T) {
	svc := NewJWTService("test-signing-key", "test-issuer", "test-audience", time.Minute)
	svc.SetEnv("demo")
	token, _, err := svc.GenerateAccessToken(context.Background(), testutil.TestIDs.Carol)
	require.NoError(t, err)

	claims, err := svc.ParseAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "demo", claims.Env)
}
