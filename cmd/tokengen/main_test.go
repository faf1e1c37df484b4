package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	jwttoken "consentledger/internal/jwt_token"
	"consentledger/pkg/testutil"
)

func TestResolveSubject(t *testing.T) {
	addr, err := resolveSubject("", testutil.SeedHex(1))
	require.NoError(t, err)
	assert.Equal(t, testutil.AddressFromSeed(1), addr)

	addr, err = resolveSubject(testutil.TestIDs.Bob.String(), "")
	require.NoError(t, err)
	assert.Equal(t, testutil.TestIDs.Bob, addr)

	_, err = resolveSubject("", "")
	assert.Error(t, err)
	_, err = resolveSubject(testutil.TestIDs.Bob.String(), testutil.SeedHex(1))
	assert.Error(t, err)
	_, err = resolveSubject("not-an-address", "")
	assert.Error(t, err)
}

func TestIssue_TokenValidatesAgainstServerSettings(t *testing.T) {
	out, err := issue(testutil.TestIDs.Carol, "k", "consentledger", "consentledger-api", "dev", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "Bearer", out.Type)

	claims, err := jwttoken.NewJWTService("k", "consentledger", "consentledger-api", time.Minute).ValidateToken(out.Token)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestIDs.Carol.String(), claims.Subject)
	assert.Equal(t, out.JTI, claims.JTI)
}
