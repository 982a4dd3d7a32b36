package executor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/cluster/fake"
	"github.com/openflowctl/workflow-engine/internal/run"
	"github.com/openflowctl/workflow-engine/internal/sourcefetch"
	"github.com/openflowctl/workflow-engine/internal/synth"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func taskStep(name string) workflow.Step {
	return workflow.Step{
		Kind:             workflow.KindTask,
		Name:             name,
		PathToExecutable: "main.py",
		TimeoutSeconds:   5,
		PollingSeconds:   1,
	}
}

// autoCompleteJobs watches every Job the fake client sees and flips it
// to JobComplete as soon as it appears, recording the order steps were
// first observed so tests can assert stage sequencing.
func autoCompleteJobs(t *testing.T, client *fake.Client, namespace string, order *[]string) chan struct{} {
	t.Helper()
	stop := make(chan struct{})
	seen := map[string]bool{}
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				jobs, err := client.List(context.Background(), cluster.KindJob, namespace, nil)
				if err != nil {
					continue
				}
				for _, obj := range jobs {
					job, ok := obj.(*batchv1.Job)
					if !ok {
						continue
					}
					step := job.Labels[synth.LabelStep]
					if seen[job.Name] {
						continue
					}
					seen[job.Name] = true
					*order = append(*order, step)
					job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
						Type:   batchv1.JobComplete,
						Status: corev1.ConditionTrue,
					})
					_ = client.Modify(job)
				}
			}
		}
	}()
	return stop
}

func failJob(t *testing.T, client *fake.Client, namespace, stepLabel string) chan struct{} {
	t.Helper()
	stop := make(chan struct{})
	seen := map[string]bool{}
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				jobs, err := client.List(context.Background(), cluster.KindJob, namespace, nil)
				if err != nil {
					continue
				}
				for _, obj := range jobs {
					job, ok := obj.(*batchv1.Job)
					if !ok || seen[job.Name] {
						continue
					}
					seen[job.Name] = true
					if job.Labels[synth.LabelStep] == stepLabel {
						job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
							Type:    batchv1.JobFailed,
							Status:  corev1.ConditionTrue,
							Message: "simulated failure",
						})
					} else {
						job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
							Type:   batchv1.JobComplete,
							Status: corev1.ConditionTrue,
						})
					}
					_ = client.Modify(job)
				}
			}
		}
	}()
	return stop
}

func serviceStep(name string, replicas int32) workflow.Step {
	return workflow.Step{
		Kind:             workflow.KindService,
		Name:             name,
		PathToExecutable: "serve.py",
		TimeoutSeconds:   5,
		PollingSeconds:   1,
		Replicas:         replicas,
		Service:          &workflow.ServiceConfig{Port: 5000},
	}
}

// autoAvailableDeployments watches every Deployment the fake client
// sees and reports it AvailableReplicas==spec.Replicas as soon as it
// appears, the way a real Deployment controller eventually would once
// minReadySeconds elapses.
func autoAvailableDeployments(t *testing.T, client *fake.Client, namespace string) chan struct{} {
	t.Helper()
	stop := make(chan struct{})
	seen := map[string]bool{}
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				deps, err := client.List(context.Background(), cluster.KindDeployment, namespace, nil)
				if err != nil {
					continue
				}
				for _, obj := range deps {
					dep, ok := obj.(*appsv1.Deployment)
					if !ok || seen[dep.Name] {
						continue
					}
					seen[dep.Name] = true
					replicas := int32(1)
					if dep.Spec.Replicas != nil {
						replicas = *dep.Spec.Replicas
					}
					dep.Status.ReadyReplicas = replicas
					dep.Status.AvailableReplicas = replicas
					_ = client.Modify(dep)
				}
			}
		}
	}()
	return stop
}

func testWorkflow(namespace string, stages ...workflow.Stage) *workflow.Workflow {
	return &workflow.Workflow{
		Name:      "pipeline",
		Namespace: namespace,
		Source:    workflow.SourceRef{Host: "github", Repo: "acme/repo", Branch: "main"},
		Stages:    stages,
	}
}

func TestRunSucceedsAndSequencesStages(t *testing.T) {
	client := fake.New("v1.29.0")
	store := run.NewStore()
	ex := New(client, store, sourcefetch.NewRegistry(), testLogger())

	wf := testWorkflow("ml",
		workflow.Stage{Name: "prepare", Steps: []workflow.Step{taskStep("fetch-data")}},
		workflow.Stage{Name: "train", Steps: []workflow.Step{taskStep("train-model")}},
	)

	var order []string
	stop := autoCompleteJobs(t, client, "ml", &order)
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ex.Run(ctx, wf, "run-1"); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	r, ok := store.Get("run-1")
	if !ok {
		t.Fatal("run-1 not recorded in store")
	}
	if r.Status != run.StatusSucceeded {
		t.Errorf("run status = %s, want %s", r.Status, run.StatusSucceeded)
	}
	if len(r.Results) != 2 {
		t.Fatalf("got %d step results, want 2", len(r.Results))
	}

	if len(order) != 2 || order[0] != "fetch-data" || order[1] != "train-model" {
		t.Errorf("stage steps observed out of order: %v", order)
	}
}

func TestRunStopsAtFirstFailingStageAndSweeps(t *testing.T) {
	client := fake.New("v1.29.0")
	store := run.NewStore()
	ex := New(client, store, sourcefetch.NewRegistry(), testLogger())

	wf := testWorkflow("ml",
		workflow.Stage{Name: "prepare", Steps: []workflow.Step{
			taskStep("fetch-data"),
			taskStep("validate-data"),
		}},
		workflow.Stage{Name: "train", Steps: []workflow.Step{taskStep("train-model")}},
	)

	stop := failJob(t, client, "ml", "validate-data")
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := ex.Run(ctx, wf, "run-2")
	if err == nil {
		t.Fatal("Run() expected an error from the failing stage, got nil")
	}

	var sfe *StepFailureError
	if fe, ok := err.(*StepFailureError); ok {
		sfe = fe
	}
	if sfe == nil {
		t.Fatalf("expected a *StepFailureError, got %T: %v", err, err)
	}
	if sfe.Stage != "prepare" {
		t.Errorf("failing stage = %q, want prepare", sfe.Stage)
	}

	r, ok := store.Get("run-2")
	if !ok {
		t.Fatal("run-2 not recorded in store")
	}
	if r.Status != run.StatusFailed {
		t.Errorf("run status = %s, want %s", r.Status, run.StatusFailed)
	}

	// The sweep after the failed stage leaves no run-2 job behind.
	jobs, err := client.List(context.Background(), cluster.KindJob, "ml", synth.RunSelector("pipeline", "run-2"))
	if err != nil {
		t.Fatalf("List after sweep: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("expected every run-2 job swept, found %d remaining", len(jobs))
	}
}

func TestRunWaitsForAllStepsInAFailingStage(t *testing.T) {
	client := fake.New("v1.29.0")
	store := run.NewStore()
	ex := New(client, store, sourcefetch.NewRegistry(), testLogger())

	wf := testWorkflow("ml",
		workflow.Stage{Name: "prepare", Steps: []workflow.Step{
			taskStep("slow-ok"),
			taskStep("fails-fast"),
		}},
	)

	// fails-fast fails almost immediately; slow-ok only succeeds after a
	// short delay. The executor must still wait for slow-ok's terminal
	// outcome before returning, not abort the instant fails-fast fails.
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		seenFast, seenSlow := false, false
		for range ticker.C {
			jobs, err := client.List(context.Background(), cluster.KindJob, "ml", nil)
			if err != nil {
				continue
			}
			for _, obj := range jobs {
				job := obj.(*batchv1.Job)
				switch job.Labels[synth.LabelStep] {
				case "fails-fast":
					if !seenFast {
						seenFast = true
						job.Status.Conditions = append(job.Status.Conditions, batchv1.JobCondition{
							Type: batchv1.JobFailed, Status: corev1.ConditionTrue,
						})
						_ = client.Modify(job)
					}
				case "slow-ok":
					if !seenSlow {
						seenSlow = true
						go func(j *batchv1.Job) {
							time.Sleep(30 * time.Millisecond)
							j.Status.Conditions = append(j.Status.Conditions, batchv1.JobCondition{
								Type: batchv1.JobComplete, Status: corev1.ConditionTrue,
							})
							_ = client.Modify(j)
						}(job)
					}
				}
			}
			if seenFast && seenSlow {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := ex.Run(ctx, wf, "run-3")
	if err == nil {
		t.Fatal("expected an error")
	}
	sfe, ok := err.(*StepFailureError)
	if !ok {
		t.Fatalf("expected *StepFailureError, got %T", err)
	}
	if len(sfe.Results) != 1 || sfe.Results[0].Step != "fails-fast" {
		t.Errorf("expected only fails-fast to be reported failed, got %+v", sfe.Results)
	}

	r, _ := store.Get("run-3")
	if len(r.Results) != 2 {
		t.Fatalf("expected both steps' results recorded, got %d", len(r.Results))
	}
	for _, res := range r.Results {
		if res.Step == "slow-ok" && res.Outcome != workflow.OutcomeSucceeded {
			t.Errorf("slow-ok outcome = %s, want Succeeded (executor must not short-circuit)", res.Outcome)
		}
	}
}

func TestRunLeavesAServiceStepsObjectsInPlaceOnSuccess(t *testing.T) {
	client := fake.New("v1.29.0")
	store := run.NewStore()
	ex := New(client, store, sourcefetch.NewRegistry(), testLogger())

	wf := testWorkflow("ml",
		workflow.Stage{Name: "serve", Steps: []workflow.Step{serviceStep("api", 2)}},
	)

	stop := autoAvailableDeployments(t, client, "ml")
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ex.Run(ctx, wf, "run-5"); err != nil {
		t.Fatalf("Run() returned error: %v", err)
	}

	r, ok := store.Get("run-5")
	if !ok {
		t.Fatal("run-5 not recorded in store")
	}
	if r.Status != run.StatusSucceeded {
		t.Errorf("run status = %s, want %s", r.Status, run.StatusSucceeded)
	}

	// The Deployment and Service must still be present: a service step's
	// objects are the durable output of the workflow, never torn down on
	// a successful run (CORE SPEC §4.4, scenario S3).
	deps, err := client.List(context.Background(), cluster.KindDeployment, "ml", synth.RunSelector("pipeline", "run-5"))
	if err != nil {
		t.Fatalf("List deployments: %v", err)
	}
	if len(deps) != 1 {
		t.Errorf("expected the Deployment to remain after a successful run, found %d", len(deps))
	}
	svcs, err := client.List(context.Background(), cluster.KindService, "ml", synth.RunSelector("pipeline", "run-5"))
	if err != nil {
		t.Fatalf("List services: %v", err)
	}
	if len(svcs) != 1 {
		t.Errorf("expected the Service to remain after a successful run, found %d", len(svcs))
	}
}

func TestRunFailsOnUnsupportedSourceHostAfterEnsuringNamespace(t *testing.T) {
	client := fake.New("v1.29.0")
	store := run.NewStore()
	ex := New(client, store, sourcefetch.NewRegistry(), testLogger())

	// An unsupported source host makes ResolveURL fail before any object
	// is ever submitted to the cluster.
	wf := &workflow.Workflow{
		Name:      "broken",
		Namespace: "ml",
		Source:    workflow.SourceRef{Host: "svn", Repo: "acme/repo", Branch: "main"},
		Stages:    []workflow.Stage{{Name: "prepare", Steps: []workflow.Step{taskStep("fetch-data")}}},
	}

	err := ex.Run(context.Background(), wf, "run-4")
	if err == nil {
		t.Fatal("expected an error resolving an unsupported source host")
	}

	ns, getErr := client.Get(context.Background(), cluster.KindNamespace, "", "ml")
	if getErr != nil {
		t.Fatalf("namespace should still have been ensured before source resolution: %v", getErr)
	}
	if _, ok := ns.(*corev1.Namespace); !ok {
		t.Fatalf("unexpected namespace object type %T", ns)
	}

	jobs, _ := client.List(context.Background(), cluster.KindJob, "ml", nil)
	if len(jobs) != 0 {
		t.Errorf("no job should have been submitted, found %d", len(jobs))
	}
}
