package sandbox_test

import (
	"context"
	"testing"
	"time"

	"codelens/internal/runner/sandbox"
	"codelens/internal/runner/sandbox/spec"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func fastWatcher(client *fake.Clientset) *sandbox.Watcher {
	return sandbox.NewWatcher(client, testNamespace, sandbox.WatcherConfig{
		PollInterval: 5 * time.Millisecond,
		GracePeriod:  50 * time.Millisecond,
	})
}

func handleFor(jobName string, timeoutSeconds int64) *sandbox.Handle {
	return &sandbox.Handle{
		TestCaseID:     "case-1",
		BatchID:        "batch-1",
		Category:       spec.CategoryUnit,
		JobName:        jobName,
		TimeoutSeconds: timeoutSeconds,
		Phase:          sandbox.PhasePending,
		SubmittedAt:    time.Now(),
	}
}

func seedJob(t *testing.T, client *fake.Clientset, job *batchv1.Job) {
	t.Helper()
	if _, err := client.BatchV1().Jobs(testNamespace).Create(context.Background(), job, metav1.CreateOptions{}); err != nil {
		t.Fatalf("seed job failed: %v", err)
	}
}

func seedPod(t *testing.T, client *fake.Clientset, jobName string, phase corev1.PodPhase) {
	t.Helper()
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName + "-pod",
			Namespace: testNamespace,
			Labels:    map[string]string{"job-name": jobName},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
	if _, err := client.CoreV1().Pods(testNamespace).Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
		t.Fatalf("seed pod failed: %v", err)
	}
}

func drain(t *testing.T, events <-chan sandbox.Event) sandbox.Event {
	t.Helper()
	var last sandbox.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return last
			}
			last = ev
		case <-deadline:
			t.Fatalf("watch did not terminate")
		}
	}
}

func TestWatchSucceededJob(t *testing.T) {
	t.Parallel()
	client := fake.NewSimpleClientset()
	seedJob(t, client, &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "sandbox-ok", Namespace: testNamespace},
		Status:     batchv1.JobStatus{Succeeded: 1},
	})
	seedPod(t, client, "sandbox-ok", corev1.PodSucceeded)

	h := handleFor("sandbox-ok", 60)
	ev := drain(t, fastWatcher(client).Watch(context.Background(), h))

	if ev.Phase != sandbox.PhaseSucceeded {
		t.Fatalf("expected succeeded, got %s", ev.Phase)
	}
	if h.Phase != sandbox.PhaseSucceeded {
		t.Fatalf("handle not updated, got %s", h.Phase)
	}
	if h.FinishedAt.IsZero() {
		t.Fatalf("finished timestamp not stamped")
	}
	// The fake clientset serves a canned log body.
	if h.Output == "" {
		t.Fatalf("terminal handle should carry captured output")
	}
}

func TestWatchDeadlineExceededJob(t *testing.T) {
	t.Parallel()
	client := fake.NewSimpleClientset()
	seedJob(t, client, &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "sandbox-slow", Namespace: testNamespace},
		Status: batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{{
				Type:   batchv1.JobFailed,
				Status: corev1.ConditionTrue,
				Reason: "DeadlineExceeded",
			}},
		},
	})
	seedPod(t, client, "sandbox-slow", corev1.PodRunning)

	h := handleFor("sandbox-slow", 60)
	ev := drain(t, fastWatcher(client).Watch(context.Background(), h))

	if ev.Phase != sandbox.PhaseTimedOut {
		t.Fatalf("expected timed out, got %s", ev.Phase)
	}
}

func TestWatchFailedJob(t *testing.T) {
	t.Parallel()
	client := fake.NewSimpleClientset()
	seedJob(t, client, &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "sandbox-bad", Namespace: testNamespace},
		Status: batchv1.JobStatus{
			Conditions: []batchv1.JobCondition{{
				Type:    batchv1.JobFailed,
				Status:  corev1.ConditionTrue,
				Reason:  "BackoffLimitExceeded",
				Message: "Job has reached the specified backoff limit",
			}},
		},
	})
	seedPod(t, client, "sandbox-bad", corev1.PodFailed)

	h := handleFor("sandbox-bad", 60)
	ev := drain(t, fastWatcher(client).Watch(context.Background(), h))

	if ev.Phase != sandbox.PhaseFailed {
		t.Fatalf("expected failed, got %s", ev.Phase)
	}
	if h.FailureReason == "" {
		t.Fatalf("failure reason not recorded")
	}
}

func TestWatchImagePullFailure(t *testing.T) {
	t.Parallel()
	client := fake.NewSimpleClientset()
	seedJob(t, client, &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "sandbox-noimg", Namespace: testNamespace},
	})
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "sandbox-noimg-pod",
			Namespace: testNamespace,
			Labels:    map[string]string{"job-name": "sandbox-noimg"},
		},
		Status: corev1.PodStatus{
			Phase: corev1.PodPending,
			ContainerStatuses: []corev1.ContainerStatus{{
				State: corev1.ContainerState{
					Waiting: &corev1.ContainerStateWaiting{
						Reason:  "ImagePullBackOff",
						Message: "Back-off pulling image",
					},
				},
			}},
		},
	}
	if _, err := client.CoreV1().Pods(testNamespace).Create(context.Background(), pod, metav1.CreateOptions{}); err != nil {
		t.Fatalf("seed pod failed: %v", err)
	}

	h := handleFor("sandbox-noimg", 60)
	ev := drain(t, fastWatcher(client).Watch(context.Background(), h))

	if ev.Phase != sandbox.PhaseSchedulingFailed {
		t.Fatalf("expected scheduling failure, got %s", ev.Phase)
	}
}

func TestWatchSynthesizesSchedulingTimeout(t *testing.T) {
	t.Parallel()
	client := fake.NewSimpleClientset()
	seedJob(t, client, &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "sandbox-stuck", Namespace: testNamespace},
	})
	// No pod ever appears; the deadline plus grace expires from the
	// submission timestamp.
	h := handleFor("sandbox-stuck", 0)
	h.TimeoutSeconds = 0
	h.SubmittedAt = time.Now().Add(-time.Second)

	ev := drain(t, fastWatcher(client).Watch(context.Background(), h))

	if ev.Phase != sandbox.PhaseSchedulingFailed {
		t.Fatalf("expected synthesized scheduling failure, got %s", ev.Phase)
	}
}

func TestWatchStopsOnCancel(t *testing.T) {
	t.Parallel()
	client := fake.NewSimpleClientset()
	seedJob(t, client, &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "sandbox-cancel", Namespace: testNamespace},
	})
	seedPod(t, client, "sandbox-cancel", corev1.PodRunning)

	ctx, cancel := context.WithCancel(context.Background())
	h := handleFor("sandbox-cancel", 600)
	events := fastWatcher(client).Watch(ctx, h)
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				if h.Phase.Terminal() {
					t.Fatalf("cancelled watch must not fabricate a terminal phase")
				}
				return
			}
		case <-deadline:
			t.Fatalf("watch did not stop after cancel")
		}
	}
}
