// Package workflow holds the in-memory data model the rest of the engine
// operates on: the Workflow/Stage/Step tree decoded from YAML, and the
// Secret and Run types that travel alongside it.
package workflow

import "time"

// StepKind discriminates the two step variants of CORE SPEC §3.
type StepKind string

const (
	KindTask    StepKind = "task"
	KindService StepKind = "service"
)

// Workflow is a named unit owning a target namespace, a source reference,
// a version tag, and an ordered list of Stages. Identity is (Namespace, Name).
type Workflow struct {
	Name      string
	Namespace string
	Version   string
	Source    SourceRef
	Stages    []Stage

	// Schedule is non-empty only for CronWorkflow materialization.
	Schedule string

	// SecretTypes maps the name of every secret known to exist in the
	// target namespace (at load time) to its type, so the Resource
	// Synthesizer can split a step's referenced secrets between envFrom
	// (opaque) and imagePullSecrets (docker-registry).
	SecretTypes map[string]SecretType
}

// SourceRef identifies the repository a workflow's steps are checked out from.
type SourceRef struct {
	Host   string // github, gitlab, bitbucket
	Repo   string // owner/repo or numeric project id
	Branch string
	Token  string // optional PAT, never persisted to the cluster in cleartext
	ID     string // optional project id override (gitlab)
}

// Private reports whether the source requires a PAT to fetch.
func (s SourceRef) Private() bool {
	return s.Token != ""
}

// Stage is an ordered list of Steps run in parallel. Stages run strictly
// sequentially within their parent Workflow.
type Stage struct {
	Name  string
	Steps []Step
}

// Step is one unit of compute: a Task (Job) or a Service (Deployment+Service[+Ingress]).
type Step struct {
	Kind StepKind
	Name string

	PathToExecutable string
	DependencyPath   string
	Image            string
	Entrypoint       []string
	Command          []string

	Envs    map[string]string
	Secrets []string

	CPURequest    float64 // fractional cores
	MemoryRequest int64   // mebibytes

	TimeoutSeconds   int
	PollingSeconds   int
	WarmUpSeconds    int

	// Task-specific.
	BackoffLimit int32

	// Service-specific.
	Replicas            int32
	RevisionHistoryLimit int32
	MinReadySeconds      int32
	Service              *ServiceConfig
}

// ServiceConfig is the service-specific sub-schema; a Task step must not
// carry one and a Service step must.
type ServiceConfig struct {
	Port              int32
	Ingress           bool
	MaxStartupSeconds int // optional, 0 means unset
}

// IsTask reports whether the step synthesizes into a Job.
func (s Step) IsTask() bool { return s.Kind == KindTask }

// IsService reports whether the step synthesizes into a Deployment.
func (s Step) IsService() bool { return s.Kind == KindService }

// SecretType distinguishes the two recognized Secret shapes of CORE SPEC §3.
type SecretType string

const (
	SecretOpaque         SecretType = "opaque"
	SecretDockerRegistry SecretType = "docker-registry"
)

// Secret is the engine's view of a namespaced Kubernetes Secret, with an
// optional owning-workflow label for lifecycle-scoped sweeping.
type Secret struct {
	Namespace      string
	Name           string
	Type           SecretType
	Data           map[string][]byte
	OwningWorkflow string // empty if not workflow-scoped
}

// Outcome is the terminal (or in-flight) state of one step, per CORE SPEC §4.5.
type Outcome string

const (
	OutcomePending     Outcome = "Pending"
	OutcomeInstalling  Outcome = "Installing"
	OutcomeRunning     Outcome = "Running"
	OutcomeSucceeded   Outcome = "Succeeded"
	OutcomeFailed      Outcome = "Failed"
	OutcomeTimedOut    Outcome = "TimedOut"
)

// Terminal reports whether an Outcome ends a step's lifecycle.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeTimedOut:
		return true
	default:
		return false
	}
}

// StepResult is the Executor/Poller's record of one step's final state,
// including captured diagnostics for failure reporting.
type StepResult struct {
	Stage     string
	Step      string
	Outcome   Outcome
	StartedAt time.Time
	EndedAt   time.Time
	Message   string
	Logs      string // last ~4KiB of container logs, populated on Failed or TimedOut
}
