// Package requesttime pins one instant per request so that expiry checks,
// record timestamps and audit events of a request agree with each other.
package requesttime

import (
	"context"
	"net/http"
	"time"
)

type nowKey struct{}

// Middleware stamps the request context with the time it arrived, in UTC.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithTime(r.Context(), time.Now().UTC())))
	})
}

// Now returns the pinned instant, or the wall clock outside a request.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(nowKey{}).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins t on ctx. Background work and tests use it to evaluate
// consents at a chosen instant.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, nowKey{}, t)
}
