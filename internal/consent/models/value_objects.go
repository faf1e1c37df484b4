package models

import (
	"slices"
	"strings"

	dErrors "consentledger/pkg/domain-errors"
)

// Status is the stored lifecycle state of a consent record.
// StatusExpired is never stored; it is derived by EffectiveStatus.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusGranted Status = "GRANTED"
	StatusRevoked Status = "REVOKED"
	StatusExpired Status = "EXPIRED"
)

// IsStored reports whether s may be persisted on a record.
func (s Status) IsStored() bool {
	switch s {
	case StatusPending, StatusGranted, StatusRevoked:
		return true
	default:
		return false
	}
}

// IsValid accepts stored statuses and the derived expired view, for filters.
func (s Status) IsValid() bool {
	return s.IsStored() || s == StatusExpired
}

// ParseStatus accepts any casing of a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", dErrors.New(dErrors.CodeBadRequest, "invalid status: "+s)
	}
	return st, nil
}

// Action is an operation a participant can take against a consent record.
type Action string

const (
	ActionRequest Action = "REQUEST"
	ActionGrant   Action = "GRANT"
	ActionRevoke  Action = "REVOKE"
	ActionView    Action = "VIEW"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionRequest, ActionGrant, ActionRevoke, ActionView:
		return true
	default:
		return false
	}
}

// Permission is a capability tag carried by a granted consent.
type Permission string

const (
	PermissionRead    Permission = "READ"
	PermissionWrite   Permission = "WRITE"
	PermissionShare   Permission = "SHARE"
	PermissionExport  Permission = "EXPORT"
	PermissionAnalyze Permission = "ANALYZE"
	PermissionModify  Permission = "MODIFY"
	PermissionDelete  Permission = "DELETE"
)

// KnownPermissions is the single source of truth for capability tags.
var KnownPermissions = map[Permission]bool{
	PermissionRead:    true,
	PermissionWrite:   true,
	PermissionShare:   true,
	PermissionExport:  true,
	PermissionAnalyze: true,
	PermissionModify:  true,
	PermissionDelete:  true,
}

func (p Permission) IsValid() bool {
	return KnownPermissions[p]
}

// Permissions is a sorted, duplicate-free set of capability tags.
type Permissions []Permission

// ParsePermissions normalizes raw tags (case, whitespace, duplicates) and
// rejects anything outside KnownPermissions.
func ParsePermissions(raw []string) (Permissions, error) {
	out := make(Permissions, 0, len(raw))
	for _, r := range raw {
		p := Permission(strings.ToUpper(strings.TrimSpace(r)))
		if !p.IsValid() {
			return nil, dErrors.New(dErrors.CodeInvalidIntent, "unknown permission: "+r)
		}
		out = append(out, p)
	}
	return out.Normalize(), nil
}

// Normalize returns a sorted copy with duplicates removed.
func (ps Permissions) Normalize() Permissions {
	out := slices.Clone(ps)
	slices.Sort(out)
	return slices.Compact(out)
}

// Validate rejects unknown tags.
func (ps Permissions) Validate() error {
	for _, p := range ps {
		if !p.IsValid() {
			return dErrors.New(dErrors.CodeInvalidIntent, "unknown permission: "+string(p))
		}
	}
	return nil
}

func (ps Permissions) Has(p Permission) bool {
	return slices.Contains(ps, p)
}

func (ps Permissions) Strings() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = string(p)
	}
	return out
}
