// Package ratelimit wraps token-bucket throttling for outbound provider
// calls. Callers hold a Limiter so tests can swap in a permissive one.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/driftnote/driftnote-backend/internal/pkg/errors"
	"github.com/driftnote/driftnote-backend/internal/platform/ctxutil"
	"github.com/driftnote/driftnote-backend/internal/utils"
)

// Limiter gates work against a shared budget. Acquire blocks until n
// tokens are available or the context ends. Ready reports whether at
// least one token is available without consuming anything, so callers
// can defer picking up work while the budget is drained.
type Limiter interface {
	Acquire(ctx context.Context, n int) error
	TryAcquire(n int) bool
	Ready() bool
}

type tokenBucket struct {
	limiter *rate.Limiter
}

// New builds a token-bucket limiter allowing ratePerSec events per
// second with the given burst. burst must be >= 1.
func New(ratePerSec float64, burst int) (Limiter, error) {
	if ratePerSec <= 0 {
		return nil, fmt.Errorf("ratePerSec must be positive, got %v", ratePerSec)
	}
	if burst < 1 {
		return nil, fmt.Errorf("burst must be >= 1, got %d", burst)
	}
	return &tokenBucket{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}, nil
}

// NewFromEnv reads EMBED_RATE_PER_SEC / EMBED_RATE_BURST with sane
// defaults for a single-node deployment.
func NewFromEnv() (Limiter, error) {
	perSec := utils.GetEnvAsInt("EMBED_RATE_PER_SEC", 10, nil)
	burst := utils.GetEnvAsInt("EMBED_RATE_BURST", 20, nil)
	return New(float64(perSec), burst)
}

func (b *tokenBucket) Acquire(ctx context.Context, n int) error {
	if n <= 0 {
		return nil
	}
	if n > b.limiter.Burst() {
		return fmt.Errorf("%w: requested %d tokens exceeds burst %d",
			apperrors.ErrRateLimited, n, b.limiter.Burst())
	}
	if err := b.limiter.WaitN(ctxutil.Default(ctx), n); err != nil {
		if ctx != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimited, err)
	}
	return nil
}

func (b *tokenBucket) TryAcquire(n int) bool {
	if n <= 0 {
		return true
	}
	return b.limiter.AllowN(time.Now(), n)
}

func (b *tokenBucket) Ready() bool {
	return b.limiter.Tokens() >= 1
}

// Unlimited returns a limiter that never blocks. Used by tests and by
// deployments that throttle upstream instead.
func Unlimited() Limiter {
	return unlimited{}
}

type unlimited struct{}

func (unlimited) Acquire(ctx context.Context, n int) error {
	if ctx != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

func (unlimited) TryAcquire(int) bool { return true }

func (unlimited) Ready() bool { return true }
