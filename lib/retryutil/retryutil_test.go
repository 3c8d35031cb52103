package retryutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSucceedsAfterFailures(t *testing.T) {
	policy := Policy{MaxAttempts: 3, Delay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), "flaky", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestExhaustsAttempts(t *testing.T) {
	policy := Policy{MaxAttempts: 2, Delay: time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), "broken", func(ctx context.Context) error {
		calls++
		return fmt.Errorf("nope")
	})
	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.Contains(t, err.Error(), "broken")
}

func TestCancelAbortsDelay(t *testing.T) {
	policy := Policy{MaxAttempts: 5, Delay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(time.Millisecond * 10)
		cancel()
	}()

	start := time.Now()
	err := policy.Do(ctx, "slow", func(ctx context.Context) error {
		return fmt.Errorf("always fails")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Less(t, time.Since(start), time.Second)
}
