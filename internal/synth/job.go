package synth

import (
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// Job synthesizes a task Step into a batchv1.Job: one pod, backoffLimit
// from the step, never restarted in place (retries happen as fresh
// pods owned by the Job controller, matching CORE SPEC §3's "a failed
// task pod is retried up to backoff_limit times before the step is
// Failed").
func Job(b Bundle, stage string, step workflow.Step) (*batchv1.Job, error) {
	spec, err := podSpec(b, step)
	if err != nil {
		return nil, err
	}

	meta := objectMeta(b, stage, step)
	backoff := step.BackoffLimit

	return &batchv1.Job{
		ObjectMeta: meta,
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoff,
			Template: corev1PodTemplate(meta, spec),
		},
	}, nil
}
