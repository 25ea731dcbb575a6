package ingest

import (
	"context"
	"iter"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Scheduler decides when and how concurrently tasks run. Run returns once every task
// pulled from tasks has finished, or early with ctx's error.
type Scheduler interface {
	Run(ctx context.Context, tasks iter.Seq[Task], process func(context.Context, Task)) error
}

// DefaultDelay is the politeness delay between document fetches
const DefaultDelay = 500 * time.Millisecond

// Sequential runs one task at a time with a fixed delay between tasks
type Sequential struct {
	Delay time.Duration
}

func (s Sequential) Run(ctx context.Context, tasks iter.Seq[Task], process func(context.Context, Task)) error {
	first := true
	for task := range tasks {
		if !first && s.Delay > 0 {
			timer := time.NewTimer(s.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		first = false

		if err := ctx.Err(); err != nil {
			return err
		}
		process(ctx, task)
	}
	return ctx.Err()
}

// Bounded runs up to Concurrency tasks at once, starting at most one task per Interval
type Bounded struct {
	Concurrency int
	Interval    time.Duration
}

func (b Bounded) Run(ctx context.Context, tasks iter.Seq[Task], process func(context.Context, Task)) error {
	limit := rate.Inf
	if b.Interval > 0 {
		limit = rate.Every(b.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(b.Concurrency, 1))

	for task := range tasks {
		if err := limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			process(gctx, task)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
