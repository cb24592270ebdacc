package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codelens/internal/runner/service"
	appErr "codelens/pkg/errors"
)

func TestBatchLimiterEnforcesPerBatchCeiling(t *testing.T) {
	t.Parallel()
	governor := service.NewGovernor(service.GovernorConfig{PerBatchLimit: 2, GlobalLimit: 10})
	limiter := governor.ForBatch()

	ctx := context.Background()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("second acquire failed: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(blocked); !appErr.Is(err, appErr.BatchCancelled) {
		t.Fatalf("third acquire should block until cancelled, got %v", err)
	}

	limiter.Release()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestGovernorEnforcesGlobalCeiling(t *testing.T) {
	t.Parallel()
	governor := service.NewGovernor(service.GovernorConfig{PerBatchLimit: 4, GlobalLimit: 2})
	first := governor.ForBatch()
	second := governor.ForBatch()

	ctx := context.Background()
	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Global pool is exhausted even though the second batch holds nothing.
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := second.Acquire(blocked); !appErr.Is(err, appErr.BatchCancelled) {
		t.Fatalf("expected global ceiling to block, got %v", err)
	}

	first.Release()
	if err := second.Acquire(ctx); err != nil {
		t.Fatalf("acquire after release failed: %v", err)
	}
}

func TestBatchLimiterCancelledAcquireLeaksNoSlots(t *testing.T) {
	t.Parallel()
	governor := service.NewGovernor(service.GovernorConfig{PerBatchLimit: 1, GlobalLimit: 1})
	limiter := governor.ForBatch()

	ctx := context.Background()
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	blocked, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := limiter.Acquire(blocked); err == nil {
		t.Fatalf("expected cancelled acquire to fail")
	}

	limiter.Release()
	// A leaked batch slot from the cancelled acquire would dead-lock here.
	done := make(chan error, 1)
	go func() { done <- limiter.Acquire(ctx) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("acquire after cancelled attempt failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("cancelled acquire leaked a slot")
	}
}

func TestGovernorUnderContention(t *testing.T) {
	t.Parallel()
	governor := service.NewGovernor(service.GovernorConfig{PerBatchLimit: 3, GlobalLimit: 3})
	limiter := governor.ForBatch()

	var (
		mu      sync.Mutex
		active  int
		peak    int
		workers sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		workers.Add(1)
		go func() {
			defer workers.Done()
			if err := limiter.Acquire(context.Background()); err != nil {
				t.Errorf("acquire failed: %v", err)
				return
			}
			defer limiter.Release()
			mu.Lock()
			active++
			if active > peak {
				peak = active
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	workers.Wait()
	if peak > 3 {
		t.Fatalf("concurrency ceiling breached: peak %d", peak)
	}
}
