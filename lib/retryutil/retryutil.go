package retryutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy is a fixed-count, fixed-delay retry policy. The portal this
// backend talks to fails transiently all the time, retrying a couple
// of times with a flat delay recovers the vast majority of calls.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

var Default = Policy{MaxAttempts: 3, Delay: time.Second * 5}

// Do runs `fn` until it succeeds or the policy is exhausted. The last
// error is returned wrapped with the operation name. Cancelling the
// context aborts the wait between attempts.
func (p Policy) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		slog.WarnContext(
			ctx, "retrying operation",
			"op", name,
			"attempt", attempt,
			"err", err,
		)
		select {
		case <-time.After(p.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: %w", name, err)
}
