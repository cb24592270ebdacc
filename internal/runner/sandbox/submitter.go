package sandbox

import (
	"context"
	"fmt"
	"time"

	"codelens/internal/runner/sandbox/spec"
	appErr "codelens/pkg/errors"
	"codelens/pkg/utils/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

const (
	// ManagedByValue identifies objects owned by this orchestrator. The
	// orphan sweep selects on it alone, so it must stay derivable without
	// in-memory state.
	ManagedByValue = "codelens-runner"

	managedByLabel = "app.kubernetes.io/managed-by"
	batchIDLabel   = "codelens.dev/batch-id"
	testIDLabel    = "codelens.dev/test-id"
	categoryLabel  = "codelens.dev/category"
	egressLabel    = "codelens.dev/egress"

	containerName = "sandbox"
	payloadEnv    = "CODELENS_PAYLOAD"

	// The payload is injected via env and written to a file by the shell,
	// which sidesteps quoting issues with arbitrary user code.
	containerScript = `printf '%s' "$CODELENS_PAYLOAD" > /tmp/test_case.py && exec python /tmp/test_case.py`
)

// Submitter creates one cluster Job per test case.
type Submitter struct {
	client    kubernetes.Interface
	namespace string
	profiles  spec.ProfileRepository
}

// NewSubmitter creates a new submitter.
func NewSubmitter(client kubernetes.Interface, namespace string, profiles spec.ProfileRepository) *Submitter {
	return &Submitter{client: client, namespace: namespace, profiles: profiles}
}

// Submit builds and creates exactly one Job for the test case and returns
// its handle. A cluster rejection (quota, image reference, RBAC) surfaces
// as a scheduling error; the case is never retried.
func (s *Submitter) Submit(ctx context.Context, batchID string, tc spec.TestCase) (*Handle, error) {
	if err := tc.Validate(); err != nil {
		return nil, err
	}
	profile, err := s.profiles.GetProfile(tc.Category)
	if err != nil {
		return nil, err
	}

	cpuLimit, err := resource.ParseQuantity(profile.CPULimit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "invalid cpu limit %q for category %s", profile.CPULimit, tc.Category)
	}
	memLimit, err := resource.ParseQuantity(profile.MemoryLimit)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InvalidParams, "invalid memory limit %q for category %s", profile.MemoryLimit, tc.Category)
	}

	jobName := fmt.Sprintf("sandbox-%s", uuid.New().String())
	labels := map[string]string{
		managedByLabel: ManagedByValue,
		batchIDLabel:   batchID,
		testIDLabel:    tc.ID,
		categoryLabel:  string(tc.Category),
		// A namespace-level NetworkPolicy selects this label and denies
		// all egress; the sandbox has no network.
		egressLabel: "deny",
	}

	backoffLimit := int32(0) // a crashed sandbox is terminal, never re-run
	activeDeadline := tc.TimeoutSeconds
	if activeDeadline <= 0 {
		activeDeadline = int64(profile.DefaultTimeout / time.Second)
	}
	automountToken := false
	enableServiceLinks := false

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: s.namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit:          &backoffLimit,
			ActiveDeadlineSeconds: &activeDeadline,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: corev1.PodSpec{
					RestartPolicy:                corev1.RestartPolicyNever,
					AutomountServiceAccountToken: &automountToken,
					EnableServiceLinks:           &enableServiceLinks,
					Containers: []corev1.Container{
						{
							Name:    containerName,
							Image:   profile.Image,
							Command: []string{"sh", "-c", containerScript},
							Env: []corev1.EnvVar{
								{Name: payloadEnv, Value: tc.Payload()},
							},
							Resources: corev1.ResourceRequirements{
								Limits: corev1.ResourceList{
									corev1.ResourceCPU:    cpuLimit,
									corev1.ResourceMemory: memLimit,
								},
							},
						},
					},
				},
			},
		},
	}

	created, err := s.client.BatchV1().Jobs(s.namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		return nil, appErr.SchedulingError(err)
	}

	logger.Info(ctx, "sandbox job created",
		zap.String("job", created.Name),
		zap.String("test_id", tc.ID),
		zap.String("category", string(tc.Category)),
	)

	return &Handle{
		TestCaseID:     tc.ID,
		BatchID:        batchID,
		Category:       tc.Category,
		JobName:        created.Name,
		TimeoutSeconds: activeDeadline,
		Phase:          PhasePending,
		SubmittedAt:    time.Now(),
	}, nil
}
