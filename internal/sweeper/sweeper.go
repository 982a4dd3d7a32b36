// Package sweeper tears down everything a run or workflow owns,
// grounded on the teacher's Destroy (drone-runner-kube, mined from the
// remediation package's reference material): delete each owned kind,
// accumulate every failure with hashicorp/go-multierror instead of
// stopping at the first one, and treat "already gone" as success.
package sweeper

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/synth"
)

// deleteOrder is the reverse of creation order: a CronJob first, so it
// starts no new Job mid-sweep, then Ingress/Service before Deployment
// before the owning namespace, so a dependent object is never left
// dangling after its owner disappears mid-sweep.
var deleteOrder = []cluster.Kind{
	cluster.KindCronJob,
	cluster.KindIngress,
	cluster.KindService,
	cluster.KindDeployment,
	cluster.KindJob,
}

// Sweeper deletes every object a run or workflow owns, identified
// purely by label selector: CORE SPEC §4.6 deliberately keeps no
// separate in-memory registry of created objects, Kubernetes' own
// labels are the registry.
type Sweeper struct {
	client cluster.Client
}

// New returns a Sweeper backed by client.
func New(client cluster.Client) *Sweeper {
	return &Sweeper{client: client}
}

// SweepRun deletes every object labeled with this run, but never
// touches the namespace or workflow-scoped secrets — those live for
// the whole workflow's lifetime, not just one failed run.
func (s *Sweeper) SweepRun(ctx context.Context, namespace, workflowName, runID string) error {
	selector := synth.RunSelector(workflowName, runID)
	return s.deleteBySelector(ctx, namespace, selector)
}

// SweepWorkflow deletes every object a workflow owns across all its
// runs, its repo-credential secret, and — if the namespace carries no
// other workflow's labels afterward — the namespace itself.
func (s *Sweeper) SweepWorkflow(ctx context.Context, namespace, workflowName string) error {
	selector := synth.WorkflowSelector(workflowName)
	var result error

	if err := s.deleteBySelector(ctx, namespace, selector); err != nil {
		result = multierror.Append(result, err)
	}

	secretName := synth.RepoSecretName(workflowName)
	if err := s.client.Delete(ctx, cluster.KindSecret, namespace, secretName); err != nil {
		result = multierror.Append(result, fmt.Errorf("deleting repo secret %s: %w", secretName, err))
	}

	if s.namespaceCreatedBy(ctx, namespace, workflowName) {
		empty, err := s.namespaceIsEmptyOfOtherWorkflows(ctx, namespace, workflowName)
		if err != nil {
			result = multierror.Append(result, err)
		} else if empty {
			if err := s.client.Delete(ctx, cluster.KindNamespace, "", namespace); err != nil {
				result = multierror.Append(result, fmt.Errorf("deleting namespace %s: %w", namespace, err))
			}
		}
	}

	return result
}

func (s *Sweeper) deleteBySelector(ctx context.Context, namespace string, selector map[string]string) error {
	var result error
	for _, kind := range deleteOrder {
		objs, err := s.client.List(ctx, kind, namespace, selector)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("listing %s: %w", kind, err))
			continue
		}
		for _, obj := range objs {
			named, ok := obj.(interface{ GetName() string })
			if !ok {
				result = multierror.Append(result, fmt.Errorf("%s object missing GetName", kind))
				continue
			}
			if err := s.client.Delete(ctx, kind, namespace, named.GetName()); err != nil {
				result = multierror.Append(result, fmt.Errorf("deleting %s/%s: %w", kind, named.GetName(), err))
			}
		}
	}
	return result
}

// namespaceCreatedBy reports whether this engine created namespace as
// part of workflowName, as opposed to the operator pointing the
// workflow at a namespace that already existed for other reasons. Only
// a namespace we created ourselves is ever a deletion candidate.
func (s *Sweeper) namespaceCreatedBy(ctx context.Context, namespace, workflowName string) bool {
	obj, err := s.client.Get(ctx, cluster.KindNamespace, "", namespace)
	if err != nil {
		return false
	}
	labeled, ok := obj.(interface{ GetLabels() map[string]string })
	if !ok {
		return false
	}
	labels := labeled.GetLabels()
	return labels[synth.LabelManagedBy] == synth.ManagedByValue && labels[synth.LabelWorkflow] == workflowName
}

// namespaceIsEmptyOfOtherWorkflows reports whether any object managed
// by a workflow other than workflowName still lives in namespace, used
// to decide whether deleting the workflow should also drop the
// namespace it was created in.
func (s *Sweeper) namespaceIsEmptyOfOtherWorkflows(ctx context.Context, namespace, workflowName string) (bool, error) {
	managedBySelector := map[string]string{synth.LabelManagedBy: synth.ManagedByValue}
	for _, kind := range append([]cluster.Kind{cluster.KindSecret}, deleteOrder...) {
		objs, err := s.client.List(ctx, kind, namespace, managedBySelector)
		if err != nil {
			return false, fmt.Errorf("listing %s: %w", kind, err)
		}
		for _, obj := range objs {
			labeled, ok := obj.(interface{ GetLabels() map[string]string })
			if !ok {
				continue
			}
			if labeled.GetLabels()[synth.LabelWorkflow] != workflowName {
				return false, nil
			}
		}
	}
	return true, nil
}
