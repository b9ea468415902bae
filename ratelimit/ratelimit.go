// Package ratelimit caps how often a single client may attempt an action.
//
// Limiters count attempts per key within a fixed window. They are a
// best-effort throttle: callers should treat backend errors as "allowed".
package ratelimit

import (
	"context"
	"time"
)

// Limiter decides whether another attempt for key is allowed and records it.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Rate is the number of attempts allowed per Period.
type Rate struct {
	Limit  int64
	Period time.Duration
}

// SubscribeRate is the default newsletter subscription limit.
var SubscribeRate = Rate{Limit: 3, Period: time.Hour}

// AllowAll is a Limiter that never denies. Useful where throttling is
// handled upstream.
type AllowAll struct{}

// Allow always returns true.
func (AllowAll) Allow(context.Context, string) (bool, error) { return true, nil }
