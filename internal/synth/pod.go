package synth

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// corev1PodTemplate wraps a PodSpec in a PodTemplateSpec carrying the
// same labels as its owner, so label-selector listing (Job -> its
// Pods, Deployment -> its Pods) works without extra bookkeeping.
func corev1PodTemplate(meta metav1.ObjectMeta, spec corev1.PodSpec) corev1.PodTemplateSpec {
	return corev1.PodTemplateSpec{
		ObjectMeta: metav1.ObjectMeta{Labels: meta.Labels},
		Spec:       spec,
	}
}

const (
	workspaceVolume    = "workspace"
	workspaceMountPath = "/workspace"

	fetchContainerName = "fetch-source"
	mainContainerName  = "step"

	// defaultImage is used when a step omits `image`: the engine's public
	// runner image (CORE SPEC §4.2), preloaded with pip and jupyter's
	// nbconvert so both `.py` and `.ipynb` executables run without the
	// step having to declare its own image.
	defaultImage = "ghcr.io/openflowctl/runner:3.11"
)

// launcherScript is the canonical entrypoint every task/service
// container runs when the step supplies neither an entrypoint nor a
// command: cd
// into the fetched checkout, install the declared dependencies, then
// run the step's executable. A `.py` file is exec'd directly; a
// `.ipynb` file is run through the headless notebook-exec shim CORE
// SPEC §4.2 calls for (`jupyter nbconvert --execute`, in place rather
// than to a copy, so a notebook step's stdout/stderr still reach pod
// logs the same way a script's does). Grounded on the teacher's
// text/template-rendered remediation scripts in argo_workflow.go,
// generalized from a fixed shell case statement to a single
// parameterized install-then-run sequence.
var launcherScript = template.Must(template.New("launcher").Parse(`#!/bin/sh
set -eu
cd {{.WorkspaceDir}}
if [ -f "{{.DependencyPath}}" ]; then
  pip install --no-cache-dir -r "{{.DependencyPath}}"
fi
{{if .IsNotebook}}exec jupyter nbconvert --to notebook --execute --inplace --ExecutePreprocessor.timeout=-1 "{{.PathToExecutable}}"
{{else}}exec python "{{.PathToExecutable}}"
{{end}}`))

type launcherVars struct {
	WorkspaceDir     string
	DependencyPath   string
	PathToExecutable string
	IsNotebook       bool
}

func renderLauncher(step workflow.Step) (string, error) {
	var buf bytes.Buffer
	err := launcherScript.Execute(&buf, launcherVars{
		WorkspaceDir:     workspaceMountPath,
		DependencyPath:   step.DependencyPath,
		PathToExecutable: step.PathToExecutable,
		IsNotebook:       strings.HasSuffix(step.PathToExecutable, ".ipynb"),
	})
	if err != nil {
		return "", fmt.Errorf("rendering launcher script: %w", err)
	}
	return buf.String(), nil
}

// podSpec builds the PodSpec shared by Job and Deployment synthesis: a
// fetch-source init container followed by the step's main container,
// with envs, secret references, and resource requests applied per
// CORE SPEC §3 (requests only, no limits — see the Open Question
// decision recorded in SPEC_FULL.md).
func podSpec(b Bundle, step workflow.Step) (corev1.PodSpec, error) {
	mainCommand := step.Command
	mainEntrypoint := step.Entrypoint
	if len(mainEntrypoint) == 0 && len(mainCommand) == 0 {
		script, err := renderLauncher(step)
		if err != nil {
			return corev1.PodSpec{}, err
		}
		mainEntrypoint = []string{"/bin/sh", "-c"}
		mainCommand = []string{script}
	}

	image := step.Image
	if image == "" {
		image = defaultImage
	}

	env := buildEnv(step)
	envFrom := buildEnvFrom(b, step)

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    *resource.NewMilliQuantity(int64(step.CPURequest*1000), resource.DecimalSI),
			corev1.ResourceMemory: *resource.NewQuantity(step.MemoryRequest*1024*1024, resource.BinarySI),
		},
	}

	spec := corev1.PodSpec{
		RestartPolicy: restartPolicyFor(step),
		InitContainers: []corev1.Container{
			fetchSourceContainer(b),
		},
		Containers: []corev1.Container{
			{
				Name:         mainContainerName,
				Image:        image,
				Command:      mainEntrypoint,
				Args:         mainCommand,
				Env:          env,
				EnvFrom:      envFrom,
				Resources:    resources,
				VolumeMounts: []corev1.VolumeMount{{Name: workspaceVolume, MountPath: workspaceMountPath}},
			},
		},
		Volumes: []corev1.Volume{
			{Name: workspaceVolume, VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
		},
	}

	if pullSecrets := buildImagePullSecrets(b, step); len(pullSecrets) > 0 {
		spec.ImagePullSecrets = pullSecrets
	}

	return spec, nil
}

func restartPolicyFor(step workflow.Step) corev1.RestartPolicy {
	if step.IsTask() {
		// Jobs own their own retry count via backoffLimit; the pod itself
		// never restarts in place.
		return corev1.RestartPolicyNever
	}
	return corev1.RestartPolicyAlways
}

// fetchSourceContainer pulls and extracts the workflow's source tarball
// into the shared workspace volume before the main container starts.
// The URL is pre-resolved by internal/sourcefetch so this package never
// needs to know about GitHub/GitLab/Bitbucket specifics.
func fetchSourceContainer(b Bundle) corev1.Container {
	env := []corev1.EnvVar{
		{Name: "SOURCE_URL", Value: b.SourceURL},
	}
	if b.SourceToken != "" {
		env = append(env, corev1.EnvVar{
			Name: "SOURCE_TOKEN",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: RepoSecretName(b.WorkflowName)},
					Key:                  repoTokenKey,
				},
			},
		})
	}

	script := `set -eu
if [ -n "${SOURCE_TOKEN:-}" ]; then
  curl -fsSL -H "Authorization: Bearer ${SOURCE_TOKEN}" "$SOURCE_URL" -o /tmp/src.tar.gz
else
  curl -fsSL "$SOURCE_URL" -o /tmp/src.tar.gz
fi
tar -xzf /tmp/src.tar.gz -C ` + workspaceMountPath + ` --strip-components=1
`

	return corev1.Container{
		Name:         fetchContainerName,
		Image:        "curlimages/curl:8.8.0",
		Command:      []string{"/bin/sh", "-c"},
		Args:         []string{script},
		Env:          env,
		VolumeMounts: []corev1.VolumeMount{{Name: workspaceVolume, MountPath: workspaceMountPath}},
	}
}

// buildEnv converts a step's literal envs map into a deterministic,
// name-sorted slice (map iteration order would otherwise make pod specs
// nondeterministic across runs of an identical workflow, violating the
// determinism property).
func buildEnv(step workflow.Step) []corev1.EnvVar {
	if len(step.Envs) == 0 {
		return nil
	}
	names := make([]string, 0, len(step.Envs))
	for k := range step.Envs {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]corev1.EnvVar, 0, len(names))
	for _, k := range names {
		out = append(out, corev1.EnvVar{Name: k, Value: step.Envs[k]})
	}
	return out
}

// buildEnvFrom wires every opaque secret a step references as a full
// envFrom source, so each key in the referenced Secret becomes an
// environment variable without the loader needing to know the secret's
// key names (CORE SPEC §4.2: "every referenced opaque secret"). A
// docker-registry-typed secret never belongs here — it carries a single
// `.dockerconfigjson` field, not KEY=value pairs, and is wired into
// imagePullSecrets by buildImagePullSecrets instead.
func buildEnvFrom(b Bundle, step workflow.Step) []corev1.EnvFromSource {
	secrets := opaqueSecrets(b, step)
	if len(secrets) == 0 {
		return nil
	}

	out := make([]corev1.EnvFromSource, 0, len(secrets))
	for _, s := range secrets {
		out = append(out, corev1.EnvFromSource{
			SecretRef: &corev1.SecretEnvSource{LocalObjectReference: corev1.LocalObjectReference{Name: s}},
		})
	}
	return out
}

// buildImagePullSecrets collects every private-registry secret in
// scope for step: the workflow's own private-source repo credential
// (if any) plus any docker-registry-typed secret the step references
// (CORE SPEC §4.2: "if any private-registry docker secret is in scope,
// it is added to imagePullSecrets").
func buildImagePullSecrets(b Bundle, step workflow.Step) []corev1.LocalObjectReference {
	seen := make(map[string]bool)
	var names []string

	if b.ImagePullSecret != "" {
		seen[b.ImagePullSecret] = true
		names = append(names, b.ImagePullSecret)
	}
	for _, s := range dockerRegistrySecrets(b, step) {
		if seen[s] {
			continue
		}
		seen[s] = true
		names = append(names, s)
	}

	sort.Strings(names)
	out := make([]corev1.LocalObjectReference, 0, len(names))
	for _, n := range names {
		out = append(out, corev1.LocalObjectReference{Name: n})
	}
	return out
}

// opaqueSecrets returns step.Secrets, sorted, excluding any name typed
// docker-registry in b.SecretTypes.
func opaqueSecrets(b Bundle, step workflow.Step) []string {
	return filterSecretsByType(b, step, workflow.SecretOpaque)
}

// dockerRegistrySecrets returns step.Secrets, sorted, limited to names
// typed docker-registry in b.SecretTypes.
func dockerRegistrySecrets(b Bundle, step workflow.Step) []string {
	return filterSecretsByType(b, step, workflow.SecretDockerRegistry)
}

// secretTypeOf reports a referenced secret's type, defaulting to opaque
// when b.SecretTypes has no entry for it.
func secretTypeOf(b Bundle, name string) workflow.SecretType {
	if typ, ok := b.SecretTypes[name]; ok {
		return typ
	}
	return workflow.SecretOpaque
}

// filterSecretsByType sorts step.Secrets and keeps only the names typed
// want.
func filterSecretsByType(b Bundle, step workflow.Step, want workflow.SecretType) []string {
	if len(step.Secrets) == 0 {
		return nil
	}
	secrets := append([]string(nil), step.Secrets...)
	sort.Strings(secrets)

	out := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if secretTypeOf(b, s) == want {
			out = append(out, s)
		}
	}
	return out
}
