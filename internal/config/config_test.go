package config

import (
	"errors"
	"strings"
	"testing"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

func mustLoad(t *testing.T, doc string, opts LoadOptions) *workflow.Workflow {
	t.Helper()
	wf, err := Load([]byte(doc), opts)
	if err != nil {
		t.Fatalf("Load: unexpected error: %v", err)
	}
	return wf
}

func baseOpts() LoadOptions {
	return LoadOptions{
		DefaultName: "fallback",
		Namespace:   "ml-team",
		Tree:        AlwaysPresent,
	}
}

const minimalDoc = `
version: "1"
name: My Pipeline
stages:
  train:
    - name: fit
      path_to_executable: train.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 512
`

func TestLoadDefaultsUnsetFieldsPerCoreSpec(t *testing.T) {
	wf := mustLoad(t, minimalDoc, baseOpts())

	if wf.Name != "my-pipeline" {
		t.Errorf("Name = %q, want normalized %q", wf.Name, "my-pipeline")
	}
	if wf.Namespace != "ml-team" {
		t.Errorf("Namespace = %q, want %q", wf.Namespace, "ml-team")
	}
	if len(wf.Stages) != 1 || len(wf.Stages[0].Steps) != 1 {
		t.Fatalf("expected one stage with one step, got %+v", wf.Stages)
	}

	step := wf.Stages[0].Steps[0]
	if step.TimeoutSeconds != DefaultTimeoutSeconds {
		t.Errorf("TimeoutSeconds = %d, want default %d", step.TimeoutSeconds, DefaultTimeoutSeconds)
	}
	if step.PollingSeconds != DefaultPollingSeconds {
		t.Errorf("PollingSeconds = %d, want default %d", step.PollingSeconds, DefaultPollingSeconds)
	}
	if step.BackoffLimit != DefaultBackoffLimit {
		t.Errorf("BackoffLimit = %d, want default %d", step.BackoffLimit, DefaultBackoffLimit)
	}
	if !step.IsTask() {
		t.Errorf("step with no `service` key should default to a task, got kind %q", step.Kind)
	}
}

func TestLoadUsesDefaultNameWhenDocumentOmitsIt(t *testing.T) {
	doc := `
version: "1"
stages:
  train:
    - name: fit
      path_to_executable: train.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 512
`
	wf := mustLoad(t, doc, baseOpts())
	if wf.Name != "fallback" {
		t.Errorf("Name = %q, want fallback default %q", wf.Name, "fallback")
	}
}

func TestLoadPreservesStageInsertionOrder(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  fetch:
    - name: pull
      path_to_executable: pull.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
  train:
    - name: fit
      path_to_executable: train.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 512
  evaluate:
    - name: score
      path_to_executable: score.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	wf := mustLoad(t, doc, baseOpts())
	var order []string
	for _, stage := range wf.Stages {
		order = append(order, stage.Name)
	}
	want := []string{"fetch", "train", "evaluate"}
	if len(order) != len(want) {
		t.Fatalf("stage order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stage order = %v, want %v", order, want)
		}
	}
}

func TestLoadDecodesServiceStepsWithTheirDefaults(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  serve:
    - name: api
      path_to_executable: serve.py
      dependency_path: requirements.txt
      cpu_request: 0.5
      memory_request: 1024
      service:
        max_startup_time: 30
`
	wf := mustLoad(t, doc, baseOpts())
	step := wf.Stages[0].Steps[0]
	if !step.IsService() {
		t.Fatalf("expected a service step, got kind %q", step.Kind)
	}
	if step.Service.Port != DefaultPort {
		t.Errorf("Service.Port = %d, want default %d", step.Service.Port, DefaultPort)
	}
	if step.Service.Ingress != DefaultIngress {
		t.Errorf("Service.Ingress = %v, want default %v", step.Service.Ingress, DefaultIngress)
	}
	if step.Replicas != DefaultReplicas {
		t.Errorf("Replicas = %d, want default %d", step.Replicas, DefaultReplicas)
	}
}

func TestLoadRejectsDuplicateStepNamesWithinAStage(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: a.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
    - name: fit
      path_to_executable: b.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	_, err := Load([]byte(doc), baseOpts())
	var collision *NameCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected *NameCollisionError, got %T: %v", err, err)
	}
	if collision.Scope != "stage" {
		t.Errorf("Scope = %q, want %q", collision.Scope, "stage")
	}
}

func TestLoadRejectsDuplicateStepNamesAcrossStages(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: a.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
  compare:
    - name: fit
      path_to_executable: b.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	_, err := Load([]byte(doc), baseOpts())
	var collision *NameCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected *NameCollisionError, got %T: %v", err, err)
	}
	if collision.Scope != "workflow" {
		t.Errorf("Scope = %q, want %q", collision.Scope, "workflow")
	}
}

func TestLoadRejectsDuplicateStageNames(t *testing.T) {
	// Two distinct stage keys that normalize to the same DNS label.
	doc := `
version: "1"
name: pipeline
stages:
  Train:
    - name: fit
      path_to_executable: a.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
  train:
    - name: fit2
      path_to_executable: b.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	_, err := Load([]byte(doc), baseOpts())
	var collision *NameCollisionError
	if !errors.As(err, &collision) {
		t.Fatalf("expected *NameCollisionError, got %T: %v", err, err)
	}
	if collision.Scope != "workflow" {
		t.Errorf("Scope = %q, want %q", collision.Scope, "workflow")
	}
}

func TestLoadRejectsUnknownTopLevelKeys(t *testing.T) {
	doc := `
version: "1"
name: pipeline
bogus: true
stages:
  train:
    - name: fit
      path_to_executable: a.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	_, err := Load([]byte(doc), baseOpts())
	var schemaErr *ConfigSchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *ConfigSchemaError, got %T: %v", err, err)
	}
}

func TestLoadRejectsTimeoutShorterThanPollingInterval(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: a.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
      timeout: 2
      polling_time: 10
`
	_, err := Load([]byte(doc), baseOpts())
	var invariant *InvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("expected *InvariantError, got %T: %v", err, err)
	}
}

func TestLoadRejectsExecutableWithUnsupportedSuffix(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: train.sh
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	_, err := Load([]byte(doc), baseOpts())
	var invariant *InvariantError
	if !errors.As(err, &invariant) {
		t.Fatalf("expected *InvariantError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "path_to_executable") {
		t.Errorf("error %v does not mention path_to_executable", err)
	}
}

func TestLoadRejectsMissingFilesAgainstTheFetchedTree(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: train.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
`
	opts := baseOpts()
	opts.Tree = missingTree{}
	_, err := Load([]byte(doc), opts)
	var missing *MissingFileError
	if !errors.As(err, &missing) {
		t.Fatalf("expected *MissingFileError, got %T: %v", err, err)
	}
}

func TestLoadRejectsSecretsAbsentFromKnownSecrets(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: train.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
      secrets: ["missing-secret"]
`
	opts := baseOpts()
	opts.KnownSecrets = map[string]workflow.SecretType{"other-secret": workflow.SecretOpaque}
	_, err := Load([]byte(doc), opts)
	var secretErr *SecretNotFoundError
	if !errors.As(err, &secretErr) {
		t.Fatalf("expected *SecretNotFoundError, got %T: %v", err, err)
	}
}

func TestLoadAcceptsKnownSecrets(t *testing.T) {
	doc := `
version: "1"
name: pipeline
stages:
  train:
    - name: fit
      path_to_executable: train.py
      dependency_path: requirements.txt
      cpu_request: 1
      memory_request: 256
      secrets: ["db-creds"]
`
	opts := baseOpts()
	opts.KnownSecrets = map[string]workflow.SecretType{"db-creds": workflow.SecretOpaque}
	mustLoad(t, doc, opts)
}

func TestLoadRejectsTaskStepCarryingAServiceConfig(t *testing.T) {
	// Can't express "task with service config" through YAML alone since
	// the presence of `service` always selects the Service variant; this
	// exercises validateStep's defensive check directly instead.
	step := rawStep{
		Name:             "fit",
		PathToExecutable: "train.py",
		DependencyPath:   "requirements.txt",
		CPURequest:       1,
		MemoryRequest:    256,
	}
	normalized, err := normalizeAndDefault(step)
	if err != nil {
		t.Fatalf("normalizeAndDefault: %v", err)
	}
	normalized.Service = &workflow.ServiceConfig{Port: 5000}
	if err := validateStep(normalized, nil, AlwaysPresent); err == nil {
		t.Fatal("expected an InvariantError for a task step carrying a service config")
	}
}

type missingTree struct{}

func (missingTree) Exists(string) bool { return false }
