package ingest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"omniasync-backend/lib/testutil"

	"github.com/stretchr/testify/require"
)

func TestTickIsSingleFlight(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "services/ingest/scheduler",
	})
	defer cleanup()

	var running atomic.Int32
	release := make(chan struct{})

	scheduler := NewScheduler(time.Hour, func(ctx context.Context) {
		running.Add(1)
		<-release
	})

	ctx := context.Background()
	require.True(t, scheduler.Tick(ctx))

	require.Eventually(t, func() bool {
		return running.Load() == 1
	}, time.Second, time.Millisecond*10)

	// the first cycle is still running, these ticks must be discarded
	require.False(t, scheduler.Tick(ctx))
	require.False(t, scheduler.Tick(ctx))
	require.EqualValues(t, 1, running.Load())

	close(release)
	scheduler.Wait()

	// and once it drains the next tick fires again
	release = make(chan struct{})
	close(release)
	require.True(t, scheduler.Tick(ctx))
	scheduler.Wait()
	require.EqualValues(t, 2, running.Load())
}

func TestRunDrainsInflightCycleOnCancel(t *testing.T) {
	_, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name: "services/ingest/scheduler",
	})
	defer cleanup()

	started := make(chan struct{})
	var finished atomic.Bool

	scheduler := NewScheduler(time.Millisecond*20, func(ctx context.Context) {
		close(started)
		time.Sleep(time.Millisecond * 50)
		finished.Store(true)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(done)
	}()

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second * 2):
		t.Fatal("scheduler did not stop")
	}
	// Run must not return before the in-flight cycle completed
	require.True(t, finished.Load())
}
