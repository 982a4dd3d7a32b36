// Package synth turns a workflow.Step into the Kubernetes objects that
// run it: a Job for a task step, or a Deployment/Service/Ingress trio
// for a service step. It is pure: given a Step and a run context it
// returns objects, never touching the cluster itself (that's
// cluster.Client's job, called by the executor).
package synth

import (
	"fmt"
	"time"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openflowctl/workflow-engine/internal/names"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// Label keys applied to every object synth produces, the ownership
// model the sweeper later lists and deletes by (CORE SPEC §4.6: no
// parallel in-memory registry, Kubernetes itself is the source of
// truth for what a workflow run owns).
const (
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelWorkflow  = "workflowctl.io/workflow"
	LabelRun       = "workflowctl.io/run"
	LabelStage     = "workflowctl.io/stage"
	LabelStep      = "workflowctl.io/step"

	ManagedByValue = "workflowctl"
)

// repoTokenKey is the data key under which internal/secret stores a
// source repository's access token.
const repoTokenKey = "GITHUB_TOKEN"

// RepoSecretName derives the per-workflow repo-credentials secret name,
// shared between internal/secret (which creates it) and this package
// (which references it from the fetch-source init container).
func RepoSecretName(workflowName string) string {
	return names.JoinTruncated(shortHash, "repo", workflowName)
}

// Bundle is the run-scoped context threaded through every synthesis
// call: the namespace, workflow and run identity, and the source
// checkout location every step's init container pulls from.
type Bundle struct {
	Namespace       string
	WorkflowName    string
	RunID           string
	SourceURL       string // tarball URL resolved by internal/sourcefetch
	SourceToken     string // empty for public repos
	ImagePullSecret string // name of the private-source repo credential secret, if any

	// SecretTypes maps the name of every secret known to exist in the
	// target namespace to its type, so podSpec can split a step's
	// referenced secrets between envFrom (opaque) and imagePullSecrets
	// (docker-registry) per CORE SPEC §4.2. A name absent from this map
	// is treated as opaque.
	SecretTypes map[string]workflow.SecretType
}

// objectName derives a DNS-1123-safe, collision-hashed object name from
// the bundle and step identity, grounded on the teacher's
// workflowName := fmt.Sprintf("kube-sentinel-%s-%s", ...); truncate to
// 63 pattern in argo_workflow.go, generalized with a hash suffix
// instead of blind truncation so two long, similarly-prefixed names
// never collide.
func objectName(b Bundle, stage, step string) string {
	return names.JoinTruncated(shortHash, b.WorkflowName, stage, step)
}

func shortHash(s string) string {
	sum := fnv32a(s)
	return fmt.Sprintf("%08x", sum)
}

// fnv32a avoids pulling in hash/fnv's Writer ceremony for an 8-char
// disambiguator; collisions are acceptable here since they only ever
// affect two names that already share a 55-char common prefix.
func fnv32a(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}

func commonLabels(b Bundle, stage, step string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelWorkflow:  b.WorkflowName,
		LabelRun:       b.RunID,
		LabelStage:     stage,
		LabelStep:      step,
	}
}

// WorkflowSelector is the label set that matches every object owned by
// a workflow, regardless of run, used by the sweeper when a workflow
// (not just a run) is deleted.
func WorkflowSelector(workflowName string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelWorkflow:  workflowName,
	}
}

// RunSelector is the label set that matches every object owned by one
// run, used by the sweeper on step failure within that run.
func RunSelector(workflowName, runID string) map[string]string {
	return map[string]string{
		LabelManagedBy: ManagedByValue,
		LabelWorkflow:  workflowName,
		LabelRun:       runID,
	}
}

func objectMeta(b Bundle, stage string, step workflow.Step) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      objectName(b, stage, step.Name),
		Namespace: b.Namespace,
		Labels:    commonLabels(b, stage, step.Name),
		Annotations: map[string]string{
			"workflowctl.io/submitted-at": time.Now().UTC().Format(time.RFC3339),
		},
	}
}
