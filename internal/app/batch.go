package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
	"github.com/ohmynofan/paws-community-bot/pkg/utils"
)

// BatchRunner fans account indices out to fn. With BatchSize > 0 accounts
// run in consecutive groups of that size with a delay between groups;
// otherwise a pool of Concurrency workers drains the whole list.
type BatchRunner struct {
	Concurrency int
	BatchSize   int
	BatchDelay  func() time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	Log         *logger.ClassLogger
}

// Run returns once every dispatched fn has returned. A cancelled ctx stops
// dispatching and is reported as the error.
func (b *BatchRunner) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if n <= 0 {
		return nil
	}
	if b.Sleep == nil {
		b.Sleep = utils.SleepContext
	}
	if b.Log == nil {
		b.Log = logger.NewLogger(b, nil)
	}

	if b.BatchSize > 0 {
		return b.runChunks(ctx, n, fn)
	}
	limit := b.Concurrency
	if limit < 1 {
		limit = 1
	}
	return b.dispatch(ctx, 0, n, limit, fn)
}

func (b *BatchRunner) runChunks(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	batches := (n + b.BatchSize - 1) / b.BatchSize
	for batch := 0; batch < batches; batch++ {
		start := batch * b.BatchSize
		end := min(start+b.BatchSize, n)

		b.Log.Info(fmt.Sprintf("Processing batch %d/%d (accounts %d-%d)", batch+1, batches, start+1, end))
		if err := b.dispatch(ctx, start, end, end-start, fn); err != nil {
			return err
		}

		if batch < batches-1 && b.BatchDelay != nil {
			if err := b.Log.Wait(ctx, "Waiting before next batch", b.BatchDelay(), b.Sleep); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *BatchRunner) dispatch(ctx context.Context, start, end, limit int, fn func(ctx context.Context, i int)) error {
	var g errgroup.Group
	g.SetLimit(limit)

	for i := start; i < end; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					b.Log.Error(fmt.Sprintf("Account %d crashed: %v", i+1, r))
				}
			}()
			fn(ctx, i)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}
