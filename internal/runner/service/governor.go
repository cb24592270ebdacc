package service

import (
	"context"

	appErr "codelens/pkg/errors"
)

const (
	defaultPerBatchLimit = 4
	defaultGlobalLimit   = 32
)

// GovernorConfig bounds concurrent sandbox execution.
type GovernorConfig struct {
	PerBatchLimit int `yaml:"perBatchLimit"`
	GlobalLimit   int `yaml:"globalLimit"`
}

// Governor enforces two concurrency ceilings: a per-batch limit so one
// large batch cannot starve others, and a global limit protecting the
// cluster. A slot covers the whole sandbox lifetime, reclaim included.
type Governor struct {
	global        chan struct{}
	perBatchLimit int
}

// NewGovernor creates a governor with the configured ceilings.
func NewGovernor(cfg GovernorConfig) *Governor {
	if cfg.PerBatchLimit <= 0 {
		cfg.PerBatchLimit = defaultPerBatchLimit
	}
	if cfg.GlobalLimit <= 0 {
		cfg.GlobalLimit = defaultGlobalLimit
	}
	return &Governor{
		global:        make(chan struct{}, cfg.GlobalLimit),
		perBatchLimit: cfg.PerBatchLimit,
	}
}

// ForBatch returns a limiter scoped to one batch. Dispatch order within
// the batch is submission order because the batch runner acquires slots
// sequentially before handing a case to its goroutine.
func (g *Governor) ForBatch() *BatchLimiter {
	return &BatchLimiter{
		governor: g,
		batch:    make(chan struct{}, g.perBatchLimit),
	}
}

// BatchLimiter tracks the slots held by one batch.
type BatchLimiter struct {
	governor *Governor
	batch    chan struct{}
}

// Acquire blocks until both a batch slot and a global slot are free. The
// batch slot is taken first so a stalled global pool cannot let one batch
// queue up claims beyond its own ceiling.
func (l *BatchLimiter) Acquire(ctx context.Context) error {
	select {
	case l.batch <- struct{}{}:
	case <-ctx.Done():
		return appErr.Wrapf(ctx.Err(), appErr.BatchCancelled, "batch cancelled while waiting for a slot")
	}
	select {
	case l.governor.global <- struct{}{}:
		return nil
	case <-ctx.Done():
		<-l.batch
		return appErr.Wrapf(ctx.Err(), appErr.BatchCancelled, "batch cancelled while waiting for a slot")
	}
}

// Release returns both slots. Must be called exactly once per successful
// Acquire.
func (l *BatchLimiter) Release() {
	<-l.governor.global
	<-l.batch
}
