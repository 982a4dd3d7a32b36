package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawStep is the flat YAML schema of one step, decoded before it is split
// into the Task/Service variant by the presence of the `service` key
// (CORE SPEC Design Notes §9: "discriminated by presence of the `service`
// field during decode").
type rawStep struct {
	Name             string            `yaml:"name"`
	PathToExecutable string            `yaml:"path_to_executable"`
	DependencyPath   string            `yaml:"dependency_path"`
	Image            string            `yaml:"image,omitempty"`
	Entrypoint       []string          `yaml:"entrypoint,omitempty"`
	Command          []string          `yaml:"command,omitempty"`
	Envs             map[string]string `yaml:"envs,omitempty"`
	Secrets          []string          `yaml:"secrets,omitempty"`
	CPURequest       float64           `yaml:"cpu_request"`
	MemoryRequest    int64             `yaml:"memory_request"`
	Timeout          int               `yaml:"timeout,omitempty"`
	PollingTime      int               `yaml:"polling_time,omitempty"`
	WaitBeforeStart  int               `yaml:"wait_before_start_time,omitempty"`

	BackoffLimit *int32 `yaml:"backoff_limit,omitempty"`

	Replicas             *int32       `yaml:"replicas,omitempty"`
	RevisionHistoryLimit *int32       `yaml:"revision_history_limit,omitempty"`
	MinReadySeconds      *int32       `yaml:"min_ready_seconds,omitempty"`
	Service              *rawService  `yaml:"service,omitempty"`
}

type rawService struct {
	Port              *int32 `yaml:"port,omitempty"`
	Ingress           *bool  `yaml:"ingress,omitempty"`
	MaxStartupSeconds int    `yaml:"max_startup_time,omitempty"`
}

// rawSource mirrors workflow.SourceRef's YAML-visible fields. It has no
// Token field: the source token is never read from the file.
type rawSource struct {
	Host   string `yaml:"host,omitempty"`
	Repo   string `yaml:"repo,omitempty"`
	Branch string `yaml:"branch,omitempty"`
	ID     string `yaml:"id,omitempty"`
}

var topLevelKeys = map[string]bool{
	"version": true,
	"name":    true,
	"source":  true,
	"stages":  true,
}

// decodeDocument performs the structural-decode phase of CORE SPEC §4.1:
// reject unknown top-level keys, require version/name/stages, and decode
// the stage mapping preserving insertion order (stage execution order
// equals order of appearance in the file).
func decodeDocument(data []byte) (version, name string, source rawSource, stageOrder []string, stageSteps map[string][]rawStep, err error) {
	var doc yaml.Node
	if uerr := yaml.Unmarshal(data, &doc); uerr != nil {
		err = &ConfigParseError{Err: uerr}
		return
	}
	if len(doc.Content) == 0 {
		err = &ConfigSchemaError{Detail: "empty document"}
		return
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		err = &ConfigSchemaError{Detail: "top level must be a mapping"}
		return
	}

	var stagesNode *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		val := root.Content[i+1]
		if !topLevelKeys[key] {
			err = &ConfigSchemaError{Detail: fmt.Sprintf("unknown top-level key %q", key)}
			return
		}
		switch key {
		case "version":
			version = val.Value
		case "name":
			name = val.Value
		case "source":
			if derr := val.Decode(&source); derr != nil {
				err = &ConfigSchemaError{Detail: fmt.Sprintf("source: %v", derr)}
				return
			}
		case "stages":
			stagesNode = val
		}
	}

	if version == "" {
		err = &ConfigSchemaError{Detail: "version is required"}
		return
	}
	if stagesNode == nil {
		err = &ConfigSchemaError{Detail: "stages is required"}
		return
	}
	if stagesNode.Kind != yaml.MappingNode {
		err = &ConfigSchemaError{Detail: "stages must be a mapping"}
		return
	}
	if len(stagesNode.Content) == 0 {
		err = &ConfigSchemaError{Detail: "stages must be non-empty"}
		return
	}

	stageSteps = make(map[string][]rawStep)
	for i := 0; i+1 < len(stagesNode.Content); i += 2 {
		stageName := stagesNode.Content[i].Value
		stepsNode := stagesNode.Content[i+1]
		var steps []rawStep
		if derr := stepsNode.Decode(&steps); derr != nil {
			err = &ConfigSchemaError{Detail: fmt.Sprintf("stage %q: %v", stageName, derr)}
			return
		}
		if len(steps) == 0 {
			err = &ConfigSchemaError{Detail: fmt.Sprintf("stage %q must have at least one step", stageName)}
			return
		}
		stageOrder = append(stageOrder, stageName)
		stageSteps[stageName] = steps
	}

	return
}
