package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ohmynofan/paws-community-bot/internal/platform/logger"
)

func init() {
	logger.SetOutput(nil, false)
}

type concurrencyGauge struct {
	current atomic.Int32
	max     atomic.Int32
}

func (p *concurrencyGauge) enter() {
	n := p.current.Add(1)
	for {
		old := p.max.Load()
		if n <= old || p.max.CompareAndSwap(old, n) {
			return
		}
	}
}

func (p *concurrencyGauge) leave() { p.current.Add(-1) }

func TestBatchRunner_ChunksWithDelay(t *testing.T) {
	var (
		mu     sync.Mutex
		seen   = map[int]bool{}
		delays int
		gauge  concurrencyGauge
	)
	runner := &BatchRunner{
		BatchSize:  10,
		BatchDelay: func() time.Duration { return 7 * time.Second },
		Sleep: func(_ context.Context, d time.Duration) error {
			if d != 7*time.Second {
				t.Errorf("unexpected delay %s", d)
			}
			delays++
			return nil
		},
	}

	err := runner.Run(context.Background(), 12, func(_ context.Context, i int) {
		gauge.enter()
		defer gauge.leave()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
	if len(seen) != 12 {
		t.Errorf("expected 12 accounts to run, got %d", len(seen))
	}
	if delays != 1 {
		t.Errorf("expected exactly one inter-batch delay, got %d", delays)
	}
	if gauge.max.Load() > 10 {
		t.Errorf("batch concurrency exceeded 10: %d", gauge.max.Load())
	}
}

func TestBatchRunner_PoolNeverExceedsLimit(t *testing.T) {
	var gauge concurrencyGauge
	var ran atomic.Int32
	runner := &BatchRunner{Concurrency: 3}

	err := runner.Run(context.Background(), 20, func(_ context.Context, i int) {
		gauge.enter()
		defer gauge.leave()
		time.Sleep(2 * time.Millisecond)
		ran.Add(1)
	})
	if err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
	if ran.Load() != 20 {
		t.Errorf("expected 20 runs, got %d", ran.Load())
	}
	if got := gauge.max.Load(); got > 3 || got < 1 {
		t.Errorf("expected concurrency within 1..3, got %d", got)
	}
}

func TestBatchRunner_PanicDoesNotAffectSiblings(t *testing.T) {
	var ran atomic.Int32
	runner := &BatchRunner{Concurrency: 4}

	err := runner.Run(context.Background(), 8, func(_ context.Context, i int) {
		if i == 3 {
			panic("boom")
		}
		ran.Add(1)
	})
	if err != nil {
		t.Fatalf("Run returned an error: %v", err)
	}
	if ran.Load() != 7 {
		t.Errorf("expected 7 healthy accounts to finish, got %d", ran.Load())
	}
}

func TestBatchRunner_StopsDispatchOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Int32
	runner := &BatchRunner{Concurrency: 1}

	err := runner.Run(ctx, 10, func(_ context.Context, i int) {
		if ran.Add(1) == 2 {
			cancel()
		}
	})
	if err == nil {
		t.Fatal("expected a cancellation error")
	}
	if got := ran.Load(); got >= 10 {
		t.Errorf("expected dispatch to stop early, ran %d", got)
	}
}
