// Package executor drives a Workflow's stages strictly in sequence and
// its steps within a stage in parallel, the concurrency
// re-architecture called for by the source's Design Notes: one
// lightweight worker per step, terminal outcomes message-passed into a
// per-stage barrier, no shared mutable step state.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/poller"
	"github.com/openflowctl/workflow-engine/internal/run"
	"github.com/openflowctl/workflow-engine/internal/secret"
	"github.com/openflowctl/workflow-engine/internal/sourcefetch"
	"github.com/openflowctl/workflow-engine/internal/sweeper"
	"github.com/openflowctl/workflow-engine/internal/synth"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// StepFailureError is the aggregate error surfaced when one or more
// steps in a stage end Failed or TimedOut, naming every offending step
// (CORE SPEC §4.4: "surface an aggregate error naming each failed
// step").
type StepFailureError struct {
	Stage   string
	Results []workflow.StepResult // only the non-Succeeded ones
}

func (e *StepFailureError) Error() string {
	msg := fmt.Sprintf("stage %q: %d step(s) did not succeed:", e.Stage, len(e.Results))
	for _, r := range e.Results {
		msg += fmt.Sprintf(" %s=%s", r.Step, r.Outcome)
	}
	return msg
}

// TimedOut reports whether any failing step in this stage timed out,
// used by the CLI to choose exit code 5 over 4.
func (e *StepFailureError) TimedOut() bool {
	for _, r := range e.Results {
		if r.Outcome == workflow.OutcomeTimedOut {
			return true
		}
	}
	return false
}

// Executor runs a Workflow against a cluster.Client.
type Executor struct {
	client    cluster.Client
	poller    *poller.Poller
	sweeper   *sweeper.Sweeper
	runs      *run.Store
	resolvers *sourcefetch.Registry
	logger    *slog.Logger
}

// New returns an Executor wired to client, with its own Poller and
// Sweeper, and runs tracked in store.
func New(client cluster.Client, store *run.Store, resolvers *sourcefetch.Registry, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if resolvers == nil {
		resolvers = sourcefetch.NewRegistry()
	}
	return &Executor{
		client:    client,
		poller:    poller.New(client, logger),
		sweeper:   sweeper.New(client),
		runs:      store,
		resolvers: resolvers,
		logger:    logger,
	}
}

// Run executes wf end to end: namespace + repo-secret preconditions,
// then each stage in order, sweeping on the first stage that doesn't
// fully succeed. ctx cancellation (SIGINT/SIGTERM per CORE SPEC §4.4)
// is cooperative: every in-flight poller observes it within one
// polling interval, and the sweep still runs afterward.
func (e *Executor) Run(ctx context.Context, wf *workflow.Workflow, runID string) error {
	e.runs.Start(runID, wf.Name, wf.Namespace)

	if err := e.client.Ensure(ctx, synth.Namespace(wf.Namespace, wf.Name)); err != nil {
		e.runs.Finish(runID, run.StatusFailed)
		return fmt.Errorf("ensuring namespace: %w", err)
	}
	if err := secret.EnsureRepoCredential(ctx, e.client, wf.Namespace, wf.Name, wf.Source.Token); err != nil {
		e.runs.Finish(runID, run.StatusFailed)
		return fmt.Errorf("ensuring repo credential: %w", err)
	}

	sourceURL, err := e.resolvers.ResolveURL(wf.Source)
	if err != nil {
		e.runs.Finish(runID, run.StatusFailed)
		return fmt.Errorf("resolving source url: %w", err)
	}

	bundle := synth.Bundle{
		Namespace:    wf.Namespace,
		WorkflowName: wf.Name,
		RunID:        runID,
		SourceURL:    sourceURL,
		SourceToken:  wf.Source.Token,
		SecretTypes:  wf.SecretTypes,
	}
	if wf.Source.Private() {
		bundle.ImagePullSecret = synth.RepoSecretName(wf.Name)
	}

	for i, stage := range wf.Stages {
		results, err := e.runStage(ctx, bundle, stage)
		e.runs.RecordStage(runID, i, results)

		if err != nil {
			sweepErr := e.sweeper.SweepRun(context.WithoutCancel(ctx), wf.Namespace, wf.Name, runID)
			e.runs.Finish(runID, run.StatusFailed)
			if sweepErr != nil {
				return multierror.Append(err, fmt.Errorf("sweeping after stage %q failure: %w", stage.Name, sweepErr))
			}
			return err
		}

		if ctx.Err() != nil {
			sweepErr := e.sweeper.SweepRun(context.WithoutCancel(ctx), wf.Namespace, wf.Name, runID)
			e.runs.Finish(runID, run.StatusFailed)
			if sweepErr != nil {
				return multierror.Append(ctx.Err(), sweepErr)
			}
			return ctx.Err()
		}
	}

	e.runs.Finish(runID, run.StatusSucceeded)
	return nil
}

// runStage submits every step in stage concurrently and waits for all
// of them to reach a terminal outcome before returning — it never
// short-circuits on the first failure (CORE SPEC §8 scenario S2: "the
// Executor waits for both, not short-circuits mid-stage").
func (e *Executor) runStage(ctx context.Context, bundle synth.Bundle, stage workflow.Stage) ([]workflow.StepResult, error) {
	results := make([]workflow.StepResult, len(stage.Steps))

	// A plain errgroup.Group, deliberately not WithContext: canceling the
	// shared context on the first step's failure would cut the other
	// steps' pollers off mid-flight, which is exactly the short-circuit
	// CORE SPEC §8 scenario S2 rules out. Every goroutine here returns a
	// nil error; runStep never lets a step failure surface as a Go error,
	// only as a terminal Outcome in its own results slot.
	var g errgroup.Group
	for i, step := range stage.Steps {
		i, step := i, step
		g.Go(func() error {
			results[i] = e.runStep(ctx, bundle, stage.Name, step)
			return nil
		})
	}
	_ = g.Wait()

	var failed []workflow.StepResult
	for _, res := range results {
		if res.Outcome != workflow.OutcomeSucceeded {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		return results, &StepFailureError{Stage: stage.Name, Results: failed}
	}
	return results, nil
}

// runStep submits one step's objects and polls it to a terminal
// outcome. A submission failure (e.g. RBAC denial on Ensure) is
// reported as an immediate Failed result rather than a panic or a
// silently-skipped step, so it surfaces through the same stage
// aggregation path as a runtime failure.
func (e *Executor) runStep(ctx context.Context, bundle synth.Bundle, stage string, step workflow.Step) workflow.StepResult {
	objectName, err := e.submit(ctx, bundle, stage, step)
	if err != nil {
		return workflow.StepResult{
			Stage:   stage,
			Step:    step.Name,
			Outcome: workflow.OutcomeFailed,
			Message: fmt.Sprintf("submitting step: %v", err),
		}
	}
	return e.poller.Watch(ctx, bundle.Namespace, stage, step, objectName)
}

func (e *Executor) submit(ctx context.Context, bundle synth.Bundle, stage string, step workflow.Step) (string, error) {
	if step.IsTask() {
		job, err := synth.Job(bundle, stage, step)
		if err != nil {
			return "", err
		}
		if err := e.client.Ensure(ctx, job); err != nil {
			return "", err
		}
		return job.Name, nil
	}

	dep, err := synth.Deployment(bundle, stage, step)
	if err != nil {
		return "", err
	}
	if err := e.client.Ensure(ctx, dep); err != nil {
		return "", err
	}

	svc := synth.Service(bundle, stage, step)
	if err := e.client.Ensure(ctx, svc); err != nil {
		return "", fmt.Errorf("ensuring service: %w", err)
	}

	if step.Service.Ingress {
		ing := synth.Ingress(bundle, stage, step)
		if err := e.client.Ensure(ctx, ing); err != nil {
			return "", fmt.Errorf("ensuring ingress: %w", err)
		}
	}

	return dep.Name, nil
}
