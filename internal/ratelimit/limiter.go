package ratelimit

import "context"

// RateLimiter throttles outbound sends per sender scope. Scopes are
// normalised case-insensitively, so "Sales@Acme.io" and "sales@acme.io"
// share one budget.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}
