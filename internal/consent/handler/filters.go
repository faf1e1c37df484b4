package handler

import (
	"net/url"
	"strings"

	"consentledger/internal/consent/models"
	id "consentledger/pkg/domain"
	dErrors "consentledger/pkg/domain-errors"
)

// parseRecordFilter converts query parameters into a filter scoped to participant.
func parseRecordFilter(participant id.Address, q url.Values) (models.RecordFilter, error) {
	filter := models.RecordFilter{
		Participant:  participant,
		DocumentType: strings.TrimSpace(q.Get("document_type")),
	}

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, err := models.ParseStatus(raw)
		if err != nil {
			return models.RecordFilter{}, err
		}
		filter.Status = &st
	}

	switch role := models.Role(strings.ToLower(strings.TrimSpace(q.Get("role")))); role {
	case models.RoleAny, models.RoleSender, models.RoleRecipient:
		filter.Role = role
	default:
		return models.RecordFilter{}, dErrors.New(dErrors.CodeBadRequest, "role must be sender or recipient")
	}
	return filter, nil
}
