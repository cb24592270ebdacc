package service

import (
	"context"
	"sync"
	"time"

	"codelens/internal/runner/model"
	"codelens/internal/runner/repository"
	"codelens/internal/runner/sandbox"
	"codelens/internal/runner/sandbox/result"
	"codelens/internal/runner/sandbox/spec"
	"codelens/internal/runner/stream"
	appErr "codelens/pkg/errors"
	"codelens/pkg/utils/logger"

	"go.uber.org/zap"
)

// JobSubmitter creates a sandbox for one test case.
type JobSubmitter interface {
	Submit(ctx context.Context, batchID string, tc spec.TestCase) (*sandbox.Handle, error)
}

// JobWatcher observes a sandbox to a terminal phase.
type JobWatcher interface {
	Watch(ctx context.Context, h *sandbox.Handle) <-chan sandbox.Event
}

// Reclaimer removes a finished sandbox from the cluster.
type Reclaimer interface {
	Reclaim(ctx context.Context, h *sandbox.Handle) error
}

// reclaimTimeout bounds cleanup after the batch context is already gone.
const reclaimTimeout = 30 * time.Second

// RunnerService executes batches of test cases, one isolated sandbox per
// case, and streams results back as each case finishes.
type RunnerService struct {
	submitter JobSubmitter
	watcher   JobWatcher
	reclaimer Reclaimer
	governor  *Governor
	statuses  *repository.StatusRepository
	publisher repository.BatchEventPublisher
}

// NewRunnerService creates a new runner service.
func NewRunnerService(
	submitter JobSubmitter,
	watcher JobWatcher,
	reclaimer Reclaimer,
	governor *Governor,
	statuses *repository.StatusRepository,
	publisher repository.BatchEventPublisher,
) (*RunnerService, error) {
	if submitter == nil || watcher == nil || reclaimer == nil {
		return nil, appErr.New(appErr.InvalidParams).WithMessage("submitter, watcher and reclaimer are required")
	}
	if governor == nil {
		governor = NewGovernor(GovernorConfig{})
	}
	return &RunnerService{
		submitter: submitter,
		watcher:   watcher,
		reclaimer: reclaimer,
		governor:  governor,
		statuses:  statuses,
		publisher: publisher,
	}, nil
}

// RunBatch executes every test case of a batch and emits results through
// the emitter: one streamed result per case in completion order, then a
// single aggregate grouped by category. Every case yields exactly one
// result no matter how its sandbox ends. Cancelling the context stops
// dispatch and suppresses remaining emissions; cleanup still happens.
func (s *RunnerService) RunBatch(ctx context.Context, batchID string, cases []spec.TestCase, emitter stream.Emitter) error {
	if batchID == "" {
		return appErr.ValidationError("batch_id", "required")
	}
	if len(cases) == 0 {
		return appErr.New(appErr.NoTestsProvided)
	}
	if emitter == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("emitter is required")
	}

	logger.Info(ctx, "batch started",
		zap.String("batch_id", batchID), zap.Int("total", len(cases)))

	s.saveStatus(ctx, model.BatchStatus{
		BatchID:   batchID,
		State:     model.BatchStateRunning,
		Total:     len(cases),
		CreatedAt: time.Now().Unix(),
	})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
		delivered []result.TestResult
		results   = make([]result.TestResult, len(cases))
	)
	limiter := s.governor.ForBatch()

	// Sequential acquisition keeps dispatch in submission order.
	for i, tc := range cases {
		if err := limiter.Acquire(ctx); err != nil {
			// Cancelled mid-batch: cases never dispatched get a
			// cancellation result so the slice stays complete.
			for j := i; j < len(cases); j++ {
				results[j] = cancelledResult(cases[j])
			}
			break
		}
		wg.Add(1)
		go func(idx int, tc spec.TestCase) {
			defer wg.Done()
			defer limiter.Release()
			r := s.runOne(ctx, batchID, tc, emitter)
			results[idx] = r

			mu.Lock()
			completed++
			delivered = append(delivered, r)
			snapshot := model.BatchStatus{
				BatchID:   batchID,
				State:     model.BatchStateRunning,
				Total:     len(cases),
				Completed: completed,
				Results:   append([]result.TestResult(nil), delivered...),
			}
			mu.Unlock()
			s.saveStatus(ctx, snapshot)
		}(i, tc)
	}
	wg.Wait()

	if ctx.Err() != nil {
		final := model.BatchStatus{
			BatchID:   batchID,
			State:     model.BatchStateCancelled,
			Total:     len(cases),
			Completed: completed,
			Results:   delivered,
		}
		s.saveStatus(context.WithoutCancel(ctx), final)
		s.publishFinal(context.WithoutCancel(ctx), final)
		logger.Info(ctx, "batch cancelled", zap.String("batch_id", batchID))
		return appErr.Wrapf(ctx.Err(), appErr.BatchCancelled, "batch %s cancelled", batchID)
	}

	resp := model.NewTestResponse(batchID, results)
	if err := emitter.EmitAggregate(ctx, resp); err != nil {
		logger.Warn(ctx, "emit batch aggregate failed",
			zap.String("batch_id", batchID), zap.Error(err))
	}

	final := model.BatchStatus{
		BatchID:   batchID,
		State:     model.BatchStateCompleted,
		Total:     len(cases),
		Completed: len(cases),
		Results:   results,
	}
	s.saveStatus(ctx, final)
	s.publishFinal(ctx, final)

	logger.Info(ctx, "batch finished",
		zap.String("batch_id", batchID), zap.Int("total", len(cases)))
	return nil
}

// runOne drives a single test case through its whole lifecycle and
// always returns a result.
func (s *RunnerService) runOne(ctx context.Context, batchID string, tc spec.TestCase, emitter stream.Emitter) result.TestResult {
	h, err := s.submitter.Submit(ctx, batchID, tc)
	if err != nil {
		logger.Warn(ctx, "sandbox submission failed",
			zap.String("batch_id", batchID), zap.String("test_id", tc.ID), zap.Error(err))
		r := result.TestResult{
			TestCaseID:   tc.ID,
			Category:     tc.Category,
			Status:       result.StatusError,
			ErrorMessage: err.Error(),
		}
		s.emit(ctx, batchID, r, emitter)
		return r
	}

	for range s.watcher.Watch(ctx, h) {
		// Drain to the terminal event; intermediate transitions only
		// matter to the watcher itself.
	}

	if !h.Phase.Terminal() {
		// The watch ended early because the context was cancelled.
		s.reclaim(ctx, h)
		return cancelledResult(tc)
	}

	r := sandbox.Decode(h)
	s.emit(ctx, batchID, r, emitter)
	s.reclaim(ctx, h)
	return r
}

func (s *RunnerService) emit(ctx context.Context, batchID string, r result.TestResult, emitter stream.Emitter) {
	if ctx.Err() != nil {
		return
	}
	if err := emitter.Emit(ctx, model.NewIndividualTestResult(batchID, r)); err != nil {
		logger.Warn(ctx, "emit test result failed",
			zap.String("batch_id", batchID), zap.String("test_id", r.TestCaseID), zap.Error(err))
	}
}

// reclaim is best-effort; the sweeper catches anything it misses.
func (s *RunnerService) reclaim(ctx context.Context, h *sandbox.Handle) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), reclaimTimeout)
	defer cancel()
	if err := s.reclaimer.Reclaim(rctx, h); err != nil {
		logger.Warn(ctx, "sandbox reclaim failed",
			zap.String("job", h.JobName), zap.Error(err))
	}
}

func (s *RunnerService) saveStatus(ctx context.Context, status model.BatchStatus) {
	if s.statuses == nil {
		return
	}
	if err := s.statuses.Save(ctx, status); err != nil {
		logger.Warn(ctx, "save batch status failed",
			zap.String("batch_id", status.BatchID), zap.Error(err))
	}
}

func (s *RunnerService) publishFinal(ctx context.Context, status model.BatchStatus) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishBatchCompleted(ctx, status); err != nil {
		logger.Warn(ctx, "publish batch event failed",
			zap.String("batch_id", status.BatchID), zap.Error(err))
	}
}

func cancelledResult(tc spec.TestCase) result.TestResult {
	return result.TestResult{
		TestCaseID:   tc.ID,
		Category:     tc.Category,
		Status:       result.StatusError,
		ErrorMessage: "batch cancelled before this test finished",
	}
}
