// Package config implements the Config Loader & Validator of CORE SPEC
// §4.1: YAML decode, DNS normalization, defaulting, and semantic
// validation into a fully-formed workflow.Workflow.
package config

import (
	"fmt"
	"strings"

	validatorpkg "github.com/go-playground/validator/v10"

	"github.com/openflowctl/workflow-engine/internal/names"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// Defaults from CORE SPEC §4.1.
const (
	DefaultTimeoutSeconds  = 20
	DefaultPollingSeconds  = 1
	DefaultWarmUpSeconds   = 0
	DefaultReplicas        = 1
	DefaultBackoffLimit    = 0
	DefaultRevisionHistory = 1
	DefaultPort            = 5000
	DefaultIngress         = false
)

// SourceTree abstracts the fetched source checkout so the loader can
// verify that a step's executable and dependency files actually exist,
// without owning the VCS fetch itself (an external collaborator per
// CORE SPEC §1).
type SourceTree interface {
	Exists(path string) bool
}

// allTree is a SourceTree that reports every path as present; used by
// --check runs that validate shape without a fetched checkout.
type allTree struct{}

func (allTree) Exists(string) bool { return true }

// AlwaysPresent is a SourceTree suitable for schema-only validation.
var AlwaysPresent SourceTree = allTree{}

// LoadOptions parameterizes Load with the caller-owned context the
// validator needs to cross-check secret references and file existence.
type LoadOptions struct {
	// DefaultName is used when the document omits `name`.
	DefaultName string
	Namespace   string
	Source      workflow.SourceRef
	// KnownSecrets maps the name of every secret that already exists in
	// the target namespace to its type, supplied by the caller (the
	// cluster client has already been queried by the time Load runs).
	// The type is needed downstream by internal/synth to split a step's
	// referenced secrets between envFrom (opaque) and imagePullSecrets
	// (docker-registry).
	KnownSecrets map[string]workflow.SecretType
	Tree         SourceTree
}

var scalarValidator = validatorpkg.New()

// stepScalars is validated with struct tags for the purely numeric
// invariants of CORE SPEC §3; the cross-cutting checks (name collisions,
// secret existence, file existence) aren't expressible as field tags and
// are checked by hand immediately after.
type stepScalars struct {
	CPURequest    float64 `validate:"gt=0"`
	MemoryRequest int64   `validate:"gt=0"`
	Timeout       int     `validate:"gtefield=PollingTime"`
	PollingTime   int     `validate:"gte=1"`
}

// Load runs all three phases of CORE SPEC §4.1 and returns a fully
// defaulted, validated Workflow.
func Load(data []byte, opts LoadOptions) (*workflow.Workflow, error) {
	version, name, src, stageOrder, stageSteps, err := decodeDocument(data)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = opts.DefaultName
	}
	if name == "" {
		return nil, &ConfigSchemaError{Detail: "name is required and no default was supplied"}
	}

	wf := &workflow.Workflow{
		Name:        names.Normalize(name),
		Namespace:   names.Normalize(opts.Namespace),
		Version:     version,
		Source:      mergeSource(opts.Source, src),
		SecretTypes: opts.KnownSecrets,
	}

	seenStageNames := make(map[string]bool)
	// seenStepNames tracks, for every step name normalized so far, the
	// stage it first appeared in: a repeat within that same stage is a
	// "stage"-scoped collision, a repeat from a different stage is a
	// "workflow"-scoped one (spec.md §9(iii): a step name shared across
	// two different stages is rejected at validation).
	seenStepNames := make(map[string]string)
	for _, stageName := range stageOrder {
		normStage := names.Normalize(stageName)
		if seenStageNames[normStage] {
			return nil, &NameCollisionError{Scope: "workflow", Name: normStage}
		}
		seenStageNames[normStage] = true

		stage := workflow.Stage{Name: normStage}
		for _, raw := range stageSteps[stageName] {
			step, err := normalizeAndDefault(raw)
			if err != nil {
				return nil, err
			}
			if firstStage, ok := seenStepNames[step.Name]; ok {
				scope := "workflow"
				if firstStage == normStage {
					scope = "stage"
				}
				return nil, &NameCollisionError{Scope: scope, Name: step.Name}
			}
			seenStepNames[step.Name] = normStage
			stage.Steps = append(stage.Steps, step)
		}
		wf.Stages = append(wf.Stages, stage)
	}

	tree := opts.Tree
	if tree == nil {
		tree = AlwaysPresent
	}
	if err := validateSemantics(wf, opts.KnownSecrets, tree); err != nil {
		return nil, err
	}

	return wf, nil
}

func mergeSource(base workflow.SourceRef, raw rawSource) workflow.SourceRef {
	out := base
	if raw.Host != "" {
		out.Host = raw.Host
	}
	if raw.Repo != "" {
		out.Repo = raw.Repo
	}
	if raw.Branch != "" {
		out.Branch = raw.Branch
	}
	if raw.ID != "" {
		out.ID = raw.ID
	}
	return out
}

func normalizeAndDefault(raw rawStep) (workflow.Step, error) {
	step := workflow.Step{
		Name:             names.Normalize(raw.Name),
		PathToExecutable: raw.PathToExecutable,
		DependencyPath:   raw.DependencyPath,
		Image:            raw.Image,
		Entrypoint:       raw.Entrypoint,
		Command:          raw.Command,
		Envs:             raw.Envs,
		Secrets:          raw.Secrets,
		CPURequest:       raw.CPURequest,
		MemoryRequest:    raw.MemoryRequest,
		TimeoutSeconds:   defaultInt(raw.Timeout, DefaultTimeoutSeconds),
		PollingSeconds:   defaultInt(raw.PollingTime, DefaultPollingSeconds),
		WarmUpSeconds:    raw.WaitBeforeStart,
	}

	if raw.Service != nil {
		step.Kind = workflow.KindService
		step.Replicas = defaultInt32(raw.Replicas, DefaultReplicas)
		step.RevisionHistoryLimit = defaultInt32(raw.RevisionHistoryLimit, DefaultRevisionHistory)
		step.MinReadySeconds = defaultInt32(raw.MinReadySeconds, 0)
		step.Service = &workflow.ServiceConfig{
			Port:              defaultInt32(raw.Service.Port, DefaultPort),
			Ingress:           defaultBool(raw.Service.Ingress, DefaultIngress),
			MaxStartupSeconds: raw.Service.MaxStartupSeconds,
		}
	} else {
		step.Kind = workflow.KindTask
		step.BackoffLimit = defaultInt32(raw.BackoffLimit, DefaultBackoffLimit)
	}

	return step, nil
}

func defaultInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func defaultInt32(v *int32, def int32) int32 {
	if v == nil {
		return def
	}
	return *v
}

func defaultBool(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// validateSemantics runs phase 3 of CORE SPEC §4.1: the invariants of §3,
// secret cross-checks, and source-tree file existence.
func validateSemantics(wf *workflow.Workflow, knownSecrets map[string]workflow.SecretType, tree SourceTree) error {
	if len(wf.Stages) == 0 {
		return &ConfigSchemaError{Detail: "at least one stage is required"}
	}

	for si := range wf.Stages {
		stage := &wf.Stages[si]
		for _, step := range stage.Steps {
			if err := validateStep(step, knownSecrets, tree); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateStep(step workflow.Step, knownSecrets map[string]workflow.SecretType, tree SourceTree) error {
	if !names.Valid(step.Name) {
		return &InvariantError{Step: step.Name, Detail: "name did not normalize to a valid DNS label"}
	}

	if err := scalarValidator.Struct(stepScalars{
		CPURequest:    step.CPURequest,
		MemoryRequest: step.MemoryRequest,
		Timeout:       step.TimeoutSeconds,
		PollingTime:   step.PollingSeconds,
	}); err != nil {
		return &InvariantError{Step: step.Name, Detail: err.Error()}
	}

	if step.IsService() && step.Service == nil {
		return &InvariantError{Step: step.Name, Detail: "service step must carry a non-empty service config"}
	}
	if step.IsTask() && step.Service != nil {
		return &InvariantError{Step: step.Name, Detail: "task step must not carry a service config"}
	}

	if !strings.HasSuffix(step.PathToExecutable, ".py") && !strings.HasSuffix(step.PathToExecutable, ".ipynb") {
		return &InvariantError{Step: step.Name, Detail: "path_to_executable must have suffix .py or .ipynb"}
	}
	if !strings.HasSuffix(step.DependencyPath, ".txt") {
		return &InvariantError{Step: step.Name, Detail: "dependency_path must have suffix .txt"}
	}

	if !tree.Exists(step.PathToExecutable) {
		return &MissingFileError{Step: step.Name, Path: step.PathToExecutable}
	}
	if !tree.Exists(step.DependencyPath) {
		return &MissingFileError{Step: step.Name, Path: step.DependencyPath}
	}

	seenEnv := make(map[string]bool, len(step.Envs))
	for k := range step.Envs {
		if seenEnv[k] {
			return &InvariantError{Step: step.Name, Detail: fmt.Sprintf("duplicate env name %q", k)}
		}
		seenEnv[k] = true
	}

	seenSecret := make(map[string]bool, len(step.Secrets))
	for _, s := range step.Secrets {
		if seenSecret[s] {
			continue
		}
		seenSecret[s] = true
		if _, ok := knownSecrets[s]; knownSecrets != nil && !ok {
			return &SecretNotFoundError{Step: step.Name, Secret: s}
		}
	}

	return nil
}
