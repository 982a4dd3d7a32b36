// Package secret builds and ensures the two Secret shapes CORE SPEC §3
// recognizes (opaque, docker-registry) plus the engine's own
// repo-credentials secret, labeled for workflow-scoped sweeping the
// same way internal/synth labels compute objects.
package secret

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/synth"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// LabelOwner marks a Secret as belonging to a workflow, read by the
// sweeper when a workflow (not just a run) is deleted; run-scoped
// objects are never the unit a Secret is swept with, since credentials
// commonly outlive any single run.
const LabelOwner = "workflowctl.io/workflow"

// Build converts the engine's Secret model into the corev1.Secret
// client-go shape, applying the managed-by and owner labels every
// synth-produced object shares.
func Build(s workflow.Secret) (*corev1.Secret, error) {
	out := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      s.Name,
			Namespace: s.Namespace,
			Labels: map[string]string{
				synth.LabelManagedBy: synth.ManagedByValue,
			},
		},
		Data: s.Data,
	}
	if s.OwningWorkflow != "" {
		out.Labels[LabelOwner] = s.OwningWorkflow
	}

	switch s.Type {
	case workflow.SecretOpaque:
		out.Type = corev1.SecretTypeOpaque
	case workflow.SecretDockerRegistry:
		out.Type = corev1.SecretTypeDockerConfigJson
		if _, ok := s.Data[corev1.DockerConfigJsonKey]; !ok {
			return nil, fmt.Errorf("docker-registry secret %q missing %s key", s.Name, corev1.DockerConfigJsonKey)
		}
	default:
		return nil, fmt.Errorf("secret %q: unrecognized type %q", s.Name, s.Type)
	}

	return out, nil
}

// DockerConfigJSON builds the .dockerconfigjson payload for a single
// registry host, built by `create secret` from its
// `--registry/--username/--password` flags.
func DockerConfigJSON(host, username, password string) ([]byte, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	cfg := map[string]any{
		"auths": map[string]any{
			host: map[string]string{
				"username": username,
				"password": password,
				"auth":     auth,
			},
		},
	}
	return json.Marshal(cfg)
}

// EnsureRepoCredential creates (or replaces) the per-workflow Secret
// carrying a private source repository's access token, named and keyed
// the way internal/synth's fetch-source init container expects to
// consume it.
func EnsureRepoCredential(ctx context.Context, client cluster.Client, namespace, workflowName, token string) error {
	if token == "" {
		return nil
	}
	name := synth.RepoSecretName(workflowName)
	s := workflow.Secret{
		Namespace:      namespace,
		Name:           name,
		Type:           workflow.SecretOpaque,
		Data:           map[string][]byte{"GITHUB_TOKEN": []byte(token)},
		OwningWorkflow: workflowName,
	}
	obj, err := Build(s)
	if err != nil {
		return err
	}
	return client.Ensure(ctx, obj)
}
