package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "consentledger/pkg/domain-errors"
	"consentledger/pkg/testutil"
)

type addressed struct {
	Recipient string `json:"recipient" validate:"required,chainaddr"`
}

type batch struct {
	ConsentIDs []string `json:"consent_ids" validate:"required,min=1,dive,uuid"`
	Label      string   `json:"label,omitempty" validate:"omitempty,notblank,max=4"`
}

func TestValidate_ChainAddress(t *testing.T) {
	require.NoError(t, Validate(&addressed{Recipient: testutil.TestIDs.Bob.String()}))

	err := Validate(&addressed{Recipient: "0xdeadbeef"})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	assert.Contains(t, err.Error(), "recipient must be a valid address")

	err = Validate(&addressed{})
	assert.Contains(t, err.Error(), "recipient is required")
}

func TestValidate_ReportsJSONFieldNames(t *testing.T) {
	tests := []struct {
		name string
		req  batch
		want string
	}{
		{"missing ids", batch{}, "consent_ids is required"},
		{"empty ids", batch{ConsentIDs: []string{}}, "consent_ids must be at least 1"},
		{"bad uuid", batch{ConsentIDs: []string{"nope"}}, "must be a valid uuid"},
		{"blank label", batch{ConsentIDs: []string{testutil.TestIDs.ConsentID1.String()}, Label: "   "}, "label must not be blank"},
		{"long label", batch{ConsentIDs: []string{testutil.TestIDs.ConsentID1.String()}, Label: "abcdef"}, "label must be at most 4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestErrorMessage_NonValidatorError(t *testing.T) {
	assert.Equal(t, "invalid request body", ErrorMessage(assert.AnError))
}
