package audit

import "context"

// Store persists history entries. ListByConsent returns them oldest first.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByConsent(ctx context.Context, consentID string) ([]Event, error)
}
