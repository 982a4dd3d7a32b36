package synth

import (
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// runnerImage carries the engine's own CLI binary, invoked by a
// CronWorkflow's CronJob to re-run `workflowctl run` on the cluster
// side (CORE SPEC §3: "the engine itself is not re-entered
// client-side for scheduled triggers").
const runnerImage = "ghcr.io/openflowctl/workflowctl:latest"

// CronJob materializes a CronWorkflow into a batchv1.CronJob whose
// single container re-invokes this same CLI's `run` subcommand inside
// runnerImage, fetching the workflow's source exactly the way an
// operator-triggered run would (CORE SPEC §8 scenario S5).
func CronJob(b Bundle, wf *workflow.Workflow, schedule string) (*batchv1.CronJob, error) {
	meta := metav1.ObjectMeta{
		Name:      objectName(b, "scheduled", wf.Name),
		Namespace: b.Namespace,
		Labels:    commonLabels(b, "scheduled", wf.Name),
	}

	args := []string{
		"run",
		"--namespace", b.Namespace,
		"--file", wf.Name + ".yaml",
		"--branch", wf.Source.Branch,
	}

	env := []corev1.EnvVar{
		{Name: "SOURCE_URL", Value: b.SourceURL},
	}
	if b.SourceToken != "" {
		env = append(env, corev1.EnvVar{
			Name: "SOURCE_TOKEN",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: RepoSecretName(wf.Name)},
					Key:                  repoTokenKey,
				},
			},
		})
	}

	container := corev1.Container{
		Name:    "run",
		Image:   runnerImage,
		Command: []string{"workflowctl"},
		Args:    args,
		Env:     env,
	}

	podSpec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers:    []corev1.Container{container},
	}
	if b.ImagePullSecret != "" {
		podSpec.ImagePullSecrets = []corev1.LocalObjectReference{{Name: b.ImagePullSecret}}
	}

	jobTemplate := batchv1.JobTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: meta.Labels},
		Spec: batchv1.JobSpec{
			Template: corev1PodTemplate(meta, podSpec),
		},
	}

	return &batchv1.CronJob{
		ObjectMeta: meta,
		Spec: batchv1.CronJobSpec{
			Schedule:          schedule,
			ConcurrencyPolicy: batchv1.ForbidConcurrent,
			JobTemplate:       jobTemplate,
		},
	}, nil
}
