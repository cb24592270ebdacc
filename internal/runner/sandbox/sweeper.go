package sandbox

import (
	"context"
	"fmt"
	"time"

	appErr "codelens/pkg/errors"
	"codelens/pkg/utils/logger"

	"go.uber.org/zap"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const defaultSweepInterval = 5 * time.Minute

// SweeperConfig holds cleanup settings.
type SweeperConfig struct {
	Interval    time.Duration `yaml:"interval"`
	GracePeriod time.Duration `yaml:"gracePeriod"`
}

// Sweeper removes sandbox jobs from the cluster. The normal path is an
// explicit Reclaim after a result is decoded; the periodic sweep is a
// backstop that catches jobs orphaned by a crash or missed reclaim.
type Sweeper struct {
	client    kubernetes.Interface
	namespace string
	cfg       SweeperConfig
}

// NewSweeper creates a new sweeper.
func NewSweeper(client kubernetes.Interface, namespace string, cfg SweeperConfig) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultSweepInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = defaultGracePeriod
	}
	return &Sweeper{client: client, namespace: namespace, cfg: cfg}
}

// Reclaim deletes the handle's job and its pods. It is idempotent: a job
// that is already gone counts as reclaimed, and repeat calls on the same
// handle are no-ops. A transient API failure leaves the handle unreclaimed
// so the caller (or the periodic sweep) can retry.
func (s *Sweeper) Reclaim(ctx context.Context, h *Handle) error {
	if h.Reclaimed() {
		return nil
	}
	if err := s.deleteJob(ctx, h.JobName); err != nil {
		return appErr.Wrapf(err, appErr.ReclaimFailed, "reclaim sandbox job %s failed", h.JobName)
	}
	h.markReclaimed()
	return nil
}

func (s *Sweeper) deleteJob(ctx context.Context, name string) error {
	propagation := metav1.DeletePropagationForeground
	err := s.client.BatchV1().Jobs(s.namespace).Delete(ctx, name, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

// Run executes the periodic sweep until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				logger.Warn(ctx, "sandbox sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep deletes every managed job older than its own execution deadline
// plus the grace period. Only jobs carrying the managed-by label are
// candidates; nothing else in the namespace is touched.
func (s *Sweeper) Sweep(ctx context.Context) error {
	jobs, err := s.client.BatchV1().Jobs(s.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("%s=%s", managedByLabel, ManagedByValue),
	})
	if err != nil {
		return appErr.Wrapf(err, appErr.SweepFailed, "list managed sandbox jobs failed")
	}

	now := time.Now()
	var swept int
	for i := range jobs.Items {
		job := &jobs.Items[i]
		deadline := defaultGracePeriod
		if job.Spec.ActiveDeadlineSeconds != nil {
			deadline = time.Duration(*job.Spec.ActiveDeadlineSeconds) * time.Second
		}
		age := now.Sub(job.CreationTimestamp.Time)
		if age <= deadline+s.cfg.GracePeriod {
			continue
		}
		if err := s.deleteJob(ctx, job.Name); err != nil {
			logger.Warn(ctx, "sweep delete failed",
				zap.String("job", job.Name), zap.Error(err))
			continue
		}
		swept++
	}
	if swept > 0 {
		logger.Info(ctx, "swept orphaned sandbox jobs", zap.Int("count", swept))
	}
	return nil
}
