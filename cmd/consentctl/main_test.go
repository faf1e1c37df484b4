package main

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consentledger/pkg/domain"
	"consentledger/pkg/testutil"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestIdentity(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runIdentity([]string{"-n", "2"}, &out))

	scanner := bufio.NewScanner(&out)
	lines := 0
	for scanner.Scan() {
		var got identityOutput
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &got))
		_, err := id.ParseAddress(got.Address.String())
		require.NoError(t, err)
		seed, err := hex.DecodeString(got.Seed)
		require.NoError(t, err)
		assert.Len(t, seed, 32)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestFieldKey(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runFieldKey(&out))
	key, err := hex.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestSealThenOpen(t *testing.T) {
	var sealed bytes.Buffer
	require.NoError(t, runSeal([]string{
		"--key", testKey,
		"--document-hash", "QmDocument",
		"--requester", testutil.TestIDs.Alice.String(),
		"--permissions", "read, share",
	}, &sealed))
	assert.NotContains(t, sealed.String(), "QmDocument")

	var opened bytes.Buffer
	require.NoError(t, runOpen([]string{"--key", testKey}, bytes.NewReader(sealed.Bytes()), &opened, nil))

	var got openOutput
	require.NoError(t, json.Unmarshal(opened.Bytes(), &got))
	assert.Equal(t, "QmDocument", got.DocumentHash)
	assert.Equal(t, testutil.TestIDs.Alice.String(), got.Requester)
	assert.Equal(t, []string{"READ", "SHARE"}, got.Permissions)
	assert.Empty(t, got.Failed)
}

func TestOpenWithWrongKeyReportsFailedFields(t *testing.T) {
	var sealed bytes.Buffer
	require.NoError(t, runSeal([]string{"--key", testKey, "--document-hash", "h"}, &sealed))

	other := strings.Repeat("ff", 32)
	var opened bytes.Buffer
	err := runOpen([]string{"--key", other}, &sealed, &opened, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 field(s)")

	var got openOutput
	require.NoError(t, json.Unmarshal(opened.Bytes(), &got))
	assert.Len(t, got.Failed, 3)
}

func TestSealRejectsBadKey(t *testing.T) {
	err := runSeal([]string{"--key", "short"}, &bytes.Buffer{})
	require.Error(t, err)
}
