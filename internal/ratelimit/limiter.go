package ratelimit

import (
	"context"
	"time"
)

// Decision is the outcome of a single limiter check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts one request against key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// All combines limiters; a request passes only if every limiter allows it.
// Every limiter is consulted so each window records the hit.
type All []Limiter

// Allow returns the most restrictive decision. When denied, ResetAt is the
// latest reset among the limiters that denied.
func (a All) Allow(ctx context.Context, key string) (Decision, error) {
	out := Decision{Allowed: true, Remaining: -1}
	for _, l := range a {
		if l == nil {
			continue
		}
		d, err := l.Allow(ctx, key)
		if err != nil {
			return Decision{}, err
		}
		if !d.Allowed {
			if out.Allowed || d.ResetAt.After(out.ResetAt) {
				out.ResetAt = d.ResetAt
			}
			out.Allowed = false
		} else if out.Allowed && (out.Remaining < 0 || d.Remaining < out.Remaining) {
			out.ResetAt = d.ResetAt
		}
		if out.Remaining < 0 || d.Remaining < out.Remaining {
			out.Limit = d.Limit
			out.Remaining = d.Remaining
		}
	}
	if out.Remaining < 0 {
		out.Remaining = 0
	}
	return out, nil
}
