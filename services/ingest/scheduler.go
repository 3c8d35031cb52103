package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
)

var schedulerTracer = otel.Tracer("services/ingest/scheduler")

// Scheduler fires ingestion cycles on a fixed interval with a
// single-flight guard: a tick that lands while a cycle is still
// running is skipped outright, never queued.
type Scheduler struct {
	interval time.Duration
	run      func(ctx context.Context)

	mu sync.Mutex
	wg sync.WaitGroup
}

func NewScheduler(interval time.Duration, run func(ctx context.Context)) *Scheduler {
	return &Scheduler{
		interval: interval,
		run:      run,
	}
}

// Run blocks until `ctx` is cancelled, then waits for the in-flight
// cycle (if any) to drain before returning. Each fired cycle runs on
// its own goroutine so a slow cycle never delays tick handling.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("scheduler running", "interval", s.interval)

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			slog.Info("scheduler stopping, draining in-flight cycle")
			s.wg.Wait()
			return
		}
	}
}

// Tick attempts to start one cycle. Returns false when a previous
// cycle is still running and the tick was discarded.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.mu.TryLock() {
		slog.Info("previous cycle still running, skipping this tick")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.mu.Unlock()

		cycleCtx, span := schedulerTracer.Start(ctx, "cycle")
		defer span.End()
		s.run(cycleCtx)
	}()
	return true
}

// Wait blocks until the in-flight cycle (if any) has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
