// Package ratelimit gates throughput-sensitive operations (chunk
// submission to a remote-backed sink, for instance) behind a token
// bucket, so a burst of large chunks cannot saturate a slow downstream
// collaborator.
package ratelimit

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket wraps golang.org/x/time/rate.Limiter with the vocabulary
// the rest of this module uses: tokens are bytes or chunk counts, not
// an abstract "rate.Limit".
type TokenBucket struct {
	limiter *rate.Limiter
}

// NewTokenBucket returns a bucket refilling at ratePerSec tokens per
// second, holding at most burst tokens.
func NewTokenBucket(ratePerSec float64, burst int) *TokenBucket {
	return &TokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether n tokens are available right now, consuming them
// if so.
func (tb *TokenBucket) Allow(n int) bool {
	return tb.limiter.AllowN(time.Now(), n)
}

// Wait blocks until n tokens are available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context, n int) error {
	return tb.limiter.WaitN(ctx, n)
}
