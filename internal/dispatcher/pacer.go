package dispatcher

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer blocks until the next send of a stream may go out.
type Pacer interface {
	Wait(ctx context.Context, spacing time.Duration) error
}

// RatePacer spaces sends with a token bucket of burst 1. The limit follows
// the spacing passed to each Wait so rate changes apply to the next send.
type RatePacer struct {
	lim *rate.Limiter
}

func NewRatePacer() *RatePacer {
	return &RatePacer{lim: rate.NewLimiter(rate.Inf, 1)}
}

func (p *RatePacer) Wait(ctx context.Context, spacing time.Duration) error {
	limit := rate.Inf
	if spacing > 0 {
		limit = rate.Every(spacing)
	}
	if p.lim.Limit() != limit {
		p.lim.SetLimit(limit)
	}
	return p.lim.Wait(ctx)
}
