package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"codelens/pkg/utils/logger"

	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultGracePeriod  = 15 * time.Second
	defaultMaxLogBytes  = 64 << 10

	// TruncationMarker is appended when captured output hits the byte cap.
	TruncationMarker = "\n[output truncated]"

	maxPollBackoff = 8 * time.Second
)

// deadline-exceeded reason reported on the Job failed condition
const jobReasonDeadline = "DeadlineExceeded"

// waiting reasons that mean the sandbox will never start
var schedulingFailureReasons = map[string]bool{
	"ErrImagePull":               true,
	"ImagePullBackOff":           true,
	"InvalidImageName":           true,
	"ErrImageNeverPull":          true,
	"CreateContainerConfigError": true,
	"CreateContainerError":       true,
}

// WatcherConfig holds polling settings.
type WatcherConfig struct {
	PollInterval time.Duration `yaml:"pollInterval"`
	GracePeriod  time.Duration `yaml:"gracePeriod"`
	MaxLogBytes  int64         `yaml:"maxLogBytes"`
}

func (c *WatcherConfig) setDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaultGracePeriod
	}
	if c.MaxLogBytes <= 0 {
		c.MaxLogBytes = defaultMaxLogBytes
	}
}

// Watcher tracks submitted sandboxes to a terminal phase.
//
// The contract is event-based: callers consume discrete phase transitions
// from the returned channel. Internally the watcher polls the cluster on a
// bounded interval; transient API errors back off and retry, they never
// become a terminal failure of the test case.
type Watcher struct {
	client    kubernetes.Interface
	namespace string
	cfg       WatcherConfig
}

// NewWatcher creates a new watcher.
func NewWatcher(client kubernetes.Interface, namespace string, cfg WatcherConfig) *Watcher {
	cfg.setDefaults()
	return &Watcher{client: client, namespace: namespace, cfg: cfg}
}

// Watch observes the handle until it reaches a terminal phase. Each phase
// transition is delivered as one Event; the channel closes after the
// terminal event. The handle is mutated only from the watch goroutine.
func (w *Watcher) Watch(ctx context.Context, h *Handle) <-chan Event {
	events := make(chan Event, 4)
	go w.run(ctx, h, events)
	return events
}

func (w *Watcher) run(ctx context.Context, h *Handle, events chan<- Event) {
	defer close(events)

	interval := w.cfg.PollInterval
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		phase, reason, err := w.observe(ctx, h)
		if err != nil {
			// Transient cluster error: widen the poll interval and retry.
			interval = interval * 2
			if interval > maxPollBackoff {
				interval = maxPollBackoff
			}
			logger.Warn(ctx, "sandbox status poll failed",
				zap.String("job", h.JobName), zap.Error(err))
			timer.Reset(interval)
			continue
		}
		interval = w.cfg.PollInterval

		// Deadline enforcement never blocks on cluster responsiveness:
		// the delete below is best-effort and the terminal phase is
		// synthesized regardless of its outcome.
		now := time.Now()
		if !phase.Terminal() {
			if !h.StartedAt.IsZero() && now.Sub(h.StartedAt) > h.timeout()+w.cfg.GracePeriod {
				w.forceDelete(ctx, h)
				phase, reason = PhaseTimedOut, "execution exceeded time limit"
			} else if h.StartedAt.IsZero() && now.Sub(h.SubmittedAt) > h.timeout()+w.cfg.GracePeriod {
				w.forceDelete(ctx, h)
				phase, reason = PhaseSchedulingFailed, fmt.Sprintf("sandbox was not scheduled within %s", h.timeout()+w.cfg.GracePeriod)
			}
		}

		if phase == h.Phase {
			timer.Reset(interval)
			continue
		}

		if phase == PhaseRunning && h.StartedAt.IsZero() {
			h.StartedAt = now
		}
		h.Phase = phase
		h.FailureReason = reason

		if phase.Terminal() {
			h.FinishedAt = now
			if phase != PhaseSchedulingFailed {
				w.captureOutput(ctx, h)
			}
			select {
			case events <- Event{Phase: phase, At: now}:
			case <-ctx.Done():
			}
			return
		}

		select {
		case events <- Event{Phase: phase, At: now}:
		case <-ctx.Done():
			return
		}
		timer.Reset(interval)
	}
}

func (h *Handle) timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// observe derives the current phase from the Job and its pod.
func (w *Watcher) observe(ctx context.Context, h *Handle) (Phase, string, error) {
	job, err := w.client.BatchV1().Jobs(w.namespace).Get(ctx, h.JobName, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return PhaseSchedulingFailed, "sandbox job object not found", nil
		}
		return "", "", err
	}

	if job.Status.Succeeded > 0 {
		return PhaseSucceeded, "", nil
	}
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			if cond.Reason == jobReasonDeadline {
				return PhaseTimedOut, "execution exceeded time limit", nil
			}
			return PhaseFailed, strings.TrimSpace(cond.Reason + " " + cond.Message), nil
		}
	}
	if job.Status.Failed > 0 {
		return PhaseFailed, "sandbox exited non-zero", nil
	}

	pod, err := w.findPod(ctx, h)
	if err != nil {
		return "", "", err
	}
	if pod == nil {
		return PhasePending, "", nil
	}

	switch pod.Status.Phase {
	case corev1.PodRunning:
		return PhaseRunning, "", nil
	case corev1.PodSucceeded:
		return PhaseSucceeded, "", nil
	case corev1.PodFailed:
		return PhaseFailed, podFailureReason(pod), nil
	default:
		if reason, msg, bad := pendingSchedulingFailure(pod); bad {
			return PhaseSchedulingFailed, strings.TrimSpace(reason + ": " + msg), nil
		}
		return PhasePending, "", nil
	}
}

func (w *Watcher) findPod(ctx context.Context, h *Handle) (*corev1.Pod, error) {
	pods, err := w.client.CoreV1().Pods(w.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", h.JobName),
	})
	if err != nil {
		return nil, err
	}
	if len(pods.Items) == 0 {
		return nil, nil
	}
	return &pods.Items[0], nil
}

func podFailureReason(pod *corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Terminated != nil && cs.State.Terminated.ExitCode != 0 {
			if cs.State.Terminated.Reason != "" {
				return fmt.Sprintf("%s (exit code %d)", cs.State.Terminated.Reason, cs.State.Terminated.ExitCode)
			}
			return fmt.Sprintf("exit code %d", cs.State.Terminated.ExitCode)
		}
	}
	if pod.Status.Reason != "" {
		return pod.Status.Reason
	}
	return "sandbox exited non-zero"
}

func pendingSchedulingFailure(pod *corev1.Pod) (reason, message string, failed bool) {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && schedulingFailureReasons[cs.State.Waiting.Reason] {
			return cs.State.Waiting.Reason, cs.State.Waiting.Message, true
		}
	}
	return "", "", false
}

// forceDelete removes the job without waiting for confirmation.
func (w *Watcher) forceDelete(ctx context.Context, h *Handle) {
	propagation := metav1.DeletePropagationBackground
	err := w.client.BatchV1().Jobs(w.namespace).Delete(ctx, h.JobName, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil && !apierrors.IsNotFound(err) {
		logger.Warn(ctx, "force delete of timed out sandbox failed",
			zap.String("job", h.JobName), zap.Error(err))
	}
}

// captureOutput fetches the pod logs bounded to MaxLogBytes.
func (w *Watcher) captureOutput(ctx context.Context, h *Handle) {
	pod, err := w.findPod(ctx, h)
	if err != nil || pod == nil {
		return
	}
	limit := w.cfg.MaxLogBytes
	// Ask for one byte past the cap so truncation is detectable.
	fetch := limit + 1
	req := w.client.CoreV1().Pods(w.namespace).GetLogs(pod.Name, &corev1.PodLogOptions{
		Container:  containerName,
		LimitBytes: &fetch,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		logger.Warn(ctx, "fetch sandbox logs failed",
			zap.String("job", h.JobName), zap.Error(err))
		return
	}
	defer stream.Close()

	data, err := io.ReadAll(io.LimitReader(stream, fetch))
	if err != nil {
		logger.Warn(ctx, "read sandbox logs failed",
			zap.String("job", h.JobName), zap.Error(err))
		return
	}
	if int64(len(data)) > limit {
		h.Output = string(data[:limit]) + TruncationMarker
		h.Truncated = true
		return
	}
	h.Output = string(data)
}
