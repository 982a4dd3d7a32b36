package main

import (
	"fmt"
	"strings"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/secret"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// buildSecretObject converts `create secret`'s flags into the engine's
// Secret model and hands it to internal/secret.Build, the same
// validation internal/synth relies on for a step's docker-registry
// imagePullSecrets.
func buildSecretObject(namespace, name, secretType, registry, username, password string, data []string) (cluster.Object, error) {
	var kind workflow.SecretType
	fields := map[string][]byte{}

	switch strings.ToLower(secretType) {
	case "opaque", "":
		kind = workflow.SecretOpaque
		for _, kv := range data {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return nil, fmt.Errorf("--data %q must be KEY=VALUE", kv)
			}
			fields[k] = []byte(v)
		}
	case "docker-registry":
		kind = workflow.SecretDockerRegistry
		if registry == "" || username == "" || password == "" {
			return nil, fmt.Errorf("docker-registry secrets require --registry, --username, and --password")
		}
		cfg, err := secret.DockerConfigJSON(registry, username, password)
		if err != nil {
			return nil, err
		}
		fields[".dockerconfigjson"] = cfg
	default:
		return nil, fmt.Errorf("unrecognized secret type %q, want opaque or docker-registry", secretType)
	}

	return secret.Build(workflow.Secret{
		Namespace: namespace,
		Name:      name,
		Type:      kind,
		Data:      fields,
	})
}
