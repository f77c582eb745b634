package ratelimit

import "context"

// RateLimiter bounds outbound dispatch throughput per key.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Wait(ctx context.Context, key string) error
}
