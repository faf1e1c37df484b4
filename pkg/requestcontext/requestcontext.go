// Package requestcontext carries request-scoped values across layers without
// the service layer importing HTTP middleware.
package requestcontext

import (
	"context"

	id "consentledger/pkg/domain"
)

type (
	requestIDKey struct{}
	identityKey  struct{}
	clientIPKey  struct{}
	clientKey    struct{}
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestID returns the request id, or "" outside an HTTP request.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}

// WithIdentity records the authenticated chain address of the caller.
func WithIdentity(ctx context.Context, addr id.Address) context.Context {
	return context.WithValue(ctx, identityKey{}, addr)
}

// Identity returns the authenticated address; ok is false when the request
// was not authenticated.
func Identity(ctx context.Context) (id.Address, bool) {
	v, ok := ctx.Value(identityKey{}).(id.Address)
	return v, ok && !v.IsZero()
}

func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func ClientIP(ctx context.Context) string {
	v, _ := ctx.Value(clientIPKey{}).(string)
	return v
}

// WithClient records a coarse description of the calling software.
func WithClient(ctx context.Context, client string) context.Context {
	return context.WithValue(ctx, clientKey{}, client)
}

func Client(ctx context.Context) string {
	v, _ := ctx.Value(clientKey{}).(string)
	return v
}
