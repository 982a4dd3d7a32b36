// Package poller drives one step's Pending->Installing->Running->
// terminal state machine (CORE SPEC §4.5), the same ticker-driven
// polling loop as the teacher's loki.Poller.Start, generalized from a
// fixed-interval Loki query to a linearly backed-off Kubernetes Get,
// with a watch.Interface consulted first the way
// drone-runner-kube's waitFor/waitForReady prefer a watch event over a
// blind re-Get.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// maxBackoffMultiplier caps the linear backoff CORE SPEC §4.5 allows on
// connection errors: the interval grows by one multiple of the base
// polling interval per consecutive error, up to 10x.
const maxBackoffMultiplier = 10

// logTailBytes is how much of a failed step's container log is
// captured into its StepResult.
const logTailBytes = 4 * 1024

// Poller watches one step through to a terminal Outcome.
type Poller struct {
	client cluster.Client
	logger *slog.Logger
}

// New returns a Poller backed by client.
func New(client cluster.Client, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, logger: logger}
}

// Watch drives stage/step to a terminal workflow.StepResult: it blocks
// until the underlying Job or Deployment+Service reaches Succeeded,
// Failed, or the step's configured timeout elapses (TimedOut), or ctx
// is canceled (the Executor's cooperative-cancellation path).
func (p *Poller) Watch(ctx context.Context, namespace, stage string, step workflow.Step, objectName string) workflow.StepResult {
	result := workflow.StepResult{Stage: stage, Step: step.Name, StartedAt: time.Now(), Outcome: workflow.OutcomePending}

	timeout := time.Duration(step.TimeoutSeconds) * time.Second
	warmUp := time.Duration(step.WarmUpSeconds) * time.Second
	base := time.Duration(step.PollingSeconds) * time.Second
	if base <= 0 {
		base = time.Second
	}

	deadline := time.Now().Add(warmUp + timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	if warmUp > 0 {
		select {
		case <-time.After(warmUp):
		case <-ctx.Done():
			return p.finalize(result, workflow.OutcomeTimedOut, "warm-up period exceeded timeout", namespace, step, objectName)
		}
	}

	kind := cluster.KindJob
	if step.IsService() {
		kind = cluster.KindDeployment
	}

	// A watch is consulted alongside the ticker, the same dual source
	// drone-runner-kube's waitFor/waitForReady read from (a
	// cache.ListWatch feeding watchtools.UntilWithSync): an event wakes
	// the loop immediately instead of waiting out the rest of the
	// interval, and the ticker is the fallback if the watch drops.
	selector := map[string]string{"workflowctl.io/step": step.Name}
	watcher, werr := p.client.Watch(ctx, kind, namespace, selector)
	if werr != nil {
		p.logger.Warn("watch unavailable, falling back to ticker-only polling", "step", step.Name, "error", werr)
	} else {
		defer watcher.Stop()
	}

	ticker := time.NewTicker(base)
	defer ticker.Stop()

	consecutiveErrors := 0
	result.Outcome = workflow.OutcomeInstalling

	var events <-chan watch.Event
	if watcher != nil {
		events = watcher.ResultChan()
	}

	for {
		outcome, msg, err := p.check(ctx, kind, namespace, objectName, step)
		if err != nil {
			consecutiveErrors++
			p.logger.Warn("poll failed, backing off", "step", step.Name, "error", err, "consecutive_errors", consecutiveErrors)
		} else {
			consecutiveErrors = 0
			result.Outcome = outcome
			if outcome.Terminal() {
				return p.finalize(result, outcome, msg, namespace, step, objectName)
			}
		}

		interval := backoffInterval(base, consecutiveErrors)
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return p.finalize(result, workflow.OutcomeTimedOut, "step did not reach a terminal state before its timeout", namespace, step, objectName)
			}
			return p.finalize(result, result.Outcome, "canceled", namespace, step, objectName)
		case _, ok := <-events:
			if !ok {
				events = nil
			}
			// fall through to re-check immediately on the next loop
		case <-ticker.C:
		case <-time.After(interval):
		}
	}
}

func backoffInterval(base time.Duration, consecutiveErrors int) time.Duration {
	mult := 1 + consecutiveErrors
	if mult > maxBackoffMultiplier {
		mult = maxBackoffMultiplier
	}
	return base * time.Duration(mult)
}

// check performs one status read: Job status for a task, Deployment
// status for a service. It does not watch continuously inside itself —
// the enclosing ticker loop in Watch is the single retry driver, kept
// simple and testable against the fake client's Modify helper.
func (p *Poller) check(ctx context.Context, kind cluster.Kind, namespace, name string, step workflow.Step) (workflow.Outcome, string, error) {
	obj, err := p.client.Get(ctx, kind, namespace, name)
	if err != nil {
		if cluster.NotFound(err) {
			return workflow.OutcomePending, "not yet created", nil
		}
		return workflow.OutcomePending, "", err
	}

	if outcome, msg, failed := p.checkPods(ctx, namespace, step); failed {
		return outcome, msg, nil
	}

	switch kind {
	case cluster.KindJob:
		job, ok := obj.(*batchv1.Job)
		if !ok {
			return workflow.OutcomePending, "", fmt.Errorf("poller: unexpected object type %T for Job", obj)
		}
		return jobOutcome(job)
	case cluster.KindDeployment:
		dep, ok := obj.(*appsv1.Deployment)
		if !ok {
			return workflow.OutcomePending, "", fmt.Errorf("poller: unexpected object type %T for Deployment", obj)
		}
		return deploymentOutcome(dep, step)
	default:
		return workflow.OutcomePending, "", fmt.Errorf("poller: unsupported kind %s", kind)
	}
}

// crashLoopThreshold is the restart count a service step's pod must
// reach before it is treated as crash-looping; task steps use their
// own backoff_limit instead, since CORE SPEC ties the threshold to
// "backoff_limit+1 restarts" and only task steps carry a backoff_limit.
const crashLoopThreshold = 5

// checkPods inspects every pod matching step's selector for the two
// pod-level failure conditions CORE SPEC §4.5 calls out that neither a
// Job's nor a Deployment's own status conditions surface directly: an
// init container that exited non-zero, and a main container stuck in
// CrashLoopBackOff at or past its retry budget. Job pods use
// RestartPolicy=Never, so "restarts" there come from fresh Job-owned
// pod attempts rather than in-place container restarts; this check
// still catches the Never case because backoffLimit+1 fresh failed
// pods is functionally the same signal as a Deployment pod's restart
// counter, observed via RestartCount on the surviving pod in both
// cases.
func (p *Poller) checkPods(ctx context.Context, namespace string, step workflow.Step) (workflow.Outcome, string, bool) {
	pods, err := p.client.List(ctx, cluster.KindPod, namespace, map[string]string{"workflowctl.io/step": step.Name})
	if err != nil || len(pods) == 0 {
		return "", "", false
	}

	threshold := int32(crashLoopThreshold)
	if step.IsTask() {
		threshold = step.BackoffLimit + 1
	}

	for _, obj := range pods {
		pod, ok := obj.(*corev1.Pod)
		if !ok {
			continue
		}
		for _, ic := range pod.Status.InitContainerStatuses {
			if t := ic.State.Terminated; t != nil && t.ExitCode != 0 {
				return workflow.OutcomeFailed, fmt.Sprintf("init container %s failed: %s", ic.Name, t.Reason), true
			}
		}
		for _, cs := range pod.Status.ContainerStatuses {
			if w := cs.State.Waiting; w != nil && w.Reason == "CrashLoopBackOff" {
				return workflow.OutcomeFailed, fmt.Sprintf("container %s is crash-looping: %s", cs.Name, w.Message), true
			}
			if cs.RestartCount >= threshold {
				return workflow.OutcomeFailed, fmt.Sprintf("container %s exceeded restart budget (%d restarts)", cs.Name, cs.RestartCount), true
			}
		}
	}
	return "", "", false
}

func jobOutcome(job *batchv1.Job) (workflow.Outcome, string, error) {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobComplete && cond.Status == "True" {
			return workflow.OutcomeSucceeded, "job completed", nil
		}
		if cond.Type == batchv1.JobFailed && cond.Status == "True" {
			return workflow.OutcomeFailed, cond.Message, nil
		}
	}
	if job.Status.Active > 0 {
		return workflow.OutcomeRunning, "job active", nil
	}
	return workflow.OutcomeInstalling, "job not yet active", nil
}

// deploymentOutcome maps a Deployment's status onto the engine's
// outcome enum. AvailableReplicas (not ReadyReplicas) is the signal for
// Succeeded: the Deployment controller only counts a pod as available
// once it has been Ready for at least minReadySeconds, so reading
// AvailableReplicas is what actually honors CORE SPEC §4.4's "≥
// minReadySeconds for at least replicas pods" requirement.
func deploymentOutcome(dep *appsv1.Deployment, step workflow.Step) (workflow.Outcome, string, error) {
	if step.Replicas > 0 && dep.Status.AvailableReplicas >= step.Replicas {
		return workflow.OutcomeSucceeded, "deployment available", nil
	}
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentProgressing && cond.Status == "False" {
			return workflow.OutcomeFailed, cond.Message, nil
		}
	}
	if dep.Status.ReadyReplicas > 0 {
		return workflow.OutcomeRunning, "deployment not yet available", nil
	}
	return workflow.OutcomeInstalling, "deployment not yet ready", nil
}

// finalize stamps EndedAt and, on Failed or TimedOut, captures the tail of the
// step's container logs for diagnostics (CORE SPEC §4.5's "a Failed
// step's result carries recent logs").
func (p *Poller) finalize(result workflow.StepResult, outcome workflow.Outcome, msg, namespace string, step workflow.Step, objectName string) workflow.StepResult {
	result.Outcome = outcome
	result.Message = msg
	result.EndedAt = time.Now()

	if outcome == workflow.OutcomeFailed || outcome == workflow.OutcomeTimedOut {
		logs, err := p.captureLogs(namespace, objectName, step)
		if err != nil {
			p.logger.Warn("failed to capture step logs", "step", step.Name, "error", err)
		} else {
			result.Logs = logs
		}
	}
	return result
}

func (p *Poller) captureLogs(namespace, objectName string, step workflow.Step) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pods, err := p.client.List(ctx, cluster.KindPod, namespace, map[string]string{
		"workflowctl.io/step": step.Name,
	})
	if err != nil {
		return "", err
	}
	if len(pods) == 0 {
		return "", nil
	}

	meta, ok := pods[0].(interface{ GetName() string })
	if !ok {
		return "", fmt.Errorf("pod object missing GetName")
	}
	return p.client.ReadPodLogs(ctx, namespace, meta.GetName(), "step", logTailBytes, false)
}
