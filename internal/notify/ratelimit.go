package notify

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a notification is dropped by the limiter.
var ErrRateLimited = errors.New("notification rate limited")

// RateLimited drops notifications above a fixed rate instead of waiting, so
// a burst of failures cannot slow down a cycle.
type RateLimited struct {
	next    Notifier
	limiter *rate.Limiter
}

// NewRateLimited allows perMinute notifications per minute with a burst of the same size.
func NewRateLimited(next Notifier, perMinute int) *RateLimited {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
	}
}

func (r *RateLimited) Send(ctx context.Context, title, body string) error {
	if !r.limiter.Allow() {
		return ErrRateLimited
	}
	return r.next.Send(ctx, title, body)
}
