// Package validation holds the size limits applied to consent API input
// before struct validation runs.
package validation

import (
	"fmt"

	dErrors "consentledger/pkg/domain-errors"
)

// MaxBodySize caps a JSON request body.
const MaxBodySize = 64 * 1024

const (
	MaxPermissions    = 32
	MaxBulkConsentIDs = 100
)

const (
	MaxPermissionLength = 64
	// MaxAddressLength bounds an address before the checksum is computed.
	MaxAddressLength = 64
)

func tooLong(field string, max int) error {
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds max length of %d", field, max))
}

// CheckSliceCount fails when count is above max.
func CheckSliceCount(field string, count, max int) error {
	if count <= max {
		return nil
	}
	return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("too many %s: max %d allowed", field, max))
}

// CheckStringLength fails when value is longer than max bytes.
func CheckStringLength(field, value string, max int) error {
	if len(value) > max {
		return tooLong(field, max)
	}
	return nil
}

// CheckEachStringLength reports the first element of values longer than max.
func CheckEachStringLength(field string, values []string, max int) error {
	for i := range values {
		if err := CheckStringLength(field, values[i], max); err != nil {
			return err
		}
	}
	return nil
}
