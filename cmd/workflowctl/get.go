package main

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"

	"github.com/spf13/cobra"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/synth"
)

// get reports on objects already on the cluster instead of tracking
// them in-memory: a CLI invocation is a one-shot process, so status
// lives in Kubernetes itself, discovered through the same label
// selectors the sweeper deletes by (CORE SPEC §4.6's "no parallel
// registry" principle applies here too).
func (c *cli) getCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "inspect workflows, cron workflows, and secrets on the cluster",
	}
	cmd.AddCommand(
		c.getWorkflowCmd(),
		c.getWorkflowsCmd(),
		c.getCronWorkflowCmd(),
		c.getSecretCmd(),
		c.getSecretsCmd(),
	)
	return cmd
}

func (c *cli) getWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <name>",
		Short: "show the status of every stage/step a workflow has submitted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			name := args[0]
			selector := synth.WorkflowSelector(name)

			jobs, err := client.List(ctx, cluster.KindJob, c.namespace, selector)
			if err != nil {
				return fmt.Errorf("%w: listing jobs: %v", errClusterUnavailable, err)
			}
			deployments, err := client.List(ctx, cluster.KindDeployment, c.namespace, selector)
			if err != nil {
				return fmt.Errorf("%w: listing deployments: %v", errClusterUnavailable, err)
			}
			if len(jobs) == 0 && len(deployments) == 0 {
				return fmt.Errorf("%w: no objects found for workflow %q in namespace %q", errPrecondition, name, c.namespace)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "STEP\tKIND\tSTATUS\tRUN")
			for _, obj := range jobs {
				job := obj.(*batchv1.Job)
				fmt.Fprintf(tw, "%s\tJob\t%s\t%s\n", job.Labels[synth.LabelStep], jobStatus(job), job.Labels[synth.LabelRun])
			}
			for _, obj := range deployments {
				dep := obj.(*appsv1.Deployment)
				fmt.Fprintf(tw, "%s\tDeployment\t%s\t%s\n", dep.Labels[synth.LabelStep], deploymentStatus(dep), dep.Labels[synth.LabelRun])
			}
			tw.Flush()

			if c.showLogs {
				if err := c.printStepLogs(ctx, cmd, client, selector); err != nil {
					return fmt.Errorf("%w: %v", errClusterUnavailable, err)
				}
			}
			return nil
		},
	}
}

func (c *cli) getWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "list every workflow that has submitted objects in the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			managedSelector := map[string]string{synth.LabelManagedBy: synth.ManagedByValue}

			jobs, err := client.List(ctx, cluster.KindJob, c.namespace, managedSelector)
			if err != nil {
				return fmt.Errorf("%w: listing jobs: %v", errClusterUnavailable, err)
			}
			deployments, err := client.List(ctx, cluster.KindDeployment, c.namespace, managedSelector)
			if err != nil {
				return fmt.Errorf("%w: listing deployments: %v", errClusterUnavailable, err)
			}

			counts := map[string]int{}
			for _, obj := range jobs {
				counts[obj.(*batchv1.Job).Labels[synth.LabelWorkflow]]++
			}
			for _, obj := range deployments {
				counts[obj.(*appsv1.Deployment).Labels[synth.LabelWorkflow]]++
			}

			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "WORKFLOW\tOBJECTS")
			for _, name := range names {
				fmt.Fprintf(tw, "%s\t%d\n", name, counts[name])
			}
			tw.Flush()
			return nil
		},
	}
}

func (c *cli) getCronWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cw <name>",
		Short: "show a cron workflow's schedule and last scheduled run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			name := args[0]
			objs, err := client.List(ctx, cluster.KindCronJob, c.namespace, synth.WorkflowSelector(name))
			if err != nil {
				return fmt.Errorf("%w: listing cronjobs: %v", errClusterUnavailable, err)
			}
			if len(objs) == 0 {
				return fmt.Errorf("%w: no cron workflow named %q in namespace %q", errPrecondition, name, c.namespace)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSCHEDULE\tSUSPENDED\tLAST SCHEDULE")
			for _, obj := range objs {
				cj := obj.(*batchv1.CronJob)
				last := "never"
				if cj.Status.LastScheduleTime != nil {
					last = cj.Status.LastScheduleTime.Format("2006-01-02T15:04:05Z")
				}
				suspended := cj.Spec.Suspend != nil && *cj.Spec.Suspend
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", cj.Name, cj.Spec.Schedule, suspended, last)
			}
			tw.Flush()
			return nil
		},
	}
}

func (c *cli) getSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret <name>",
		Short: "show a secret's type and data keys, never its values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			obj, err := client.Get(ctx, cluster.KindSecret, c.namespace, args[0])
			if err != nil {
				if cluster.NotFound(err) {
					return fmt.Errorf("%w: secret %q not found in namespace %q", errPrecondition, args[0], c.namespace)
				}
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			s := obj.(*corev1.Secret)
			keys := make([]string, 0, len(s.Data))
			for k := range s.Data {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Fprintf(cmd.OutOrStdout(), "%s\ttype=%s\tkeys=%v\n", s.Name, s.Type, keys)
			return nil
		},
	}
}

func (c *cli) getSecretsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secrets",
		Short: "list secret names and types in the namespace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			objs, err := client.List(ctx, cluster.KindSecret, c.namespace, nil)
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 2, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tTYPE")
			for _, obj := range objs {
				s := obj.(*corev1.Secret)
				fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Type)
			}
			tw.Flush()
			return nil
		},
	}
}

func jobStatus(job *batchv1.Job) string {
	switch {
	case job.Status.Succeeded > 0:
		return "Succeeded"
	case job.Status.Failed > 0:
		return "Failed"
	case job.Status.Active > 0:
		return "Running"
	default:
		return "Pending"
	}
}

func deploymentStatus(dep *appsv1.Deployment) string {
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentAvailable && cond.Status == corev1.ConditionTrue {
			return "Running"
		}
	}
	if dep.Status.ReadyReplicas < dep.Status.Replicas {
		return "Pending"
	}
	return "Running"
}

// logTailBytes matches the capture budget internal/poller applies on a
// step's terminal failure, reused here for on-demand inspection.
const logTailBytes = 4096

// printStepLogs tails the log of every pod matching selector, one
// section per step.
func (c *cli) printStepLogs(ctx context.Context, cmd *cobra.Command, client cluster.Client, selector map[string]string) error {
	pods, err := client.List(ctx, cluster.KindPod, c.namespace, selector)
	if err != nil {
		return fmt.Errorf("listing pods: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, obj := range pods {
		pod := obj.(*corev1.Pod)
		if len(pod.Spec.Containers) == 0 {
			continue
		}
		container := pod.Spec.Containers[0].Name
		logs, err := client.ReadPodLogs(ctx, c.namespace, pod.Name, container, logTailBytes, false)
		if err != nil {
			fmt.Fprintf(out, "--- %s (%s): %v\n", pod.Labels[synth.LabelStep], pod.Name, err)
			continue
		}
		fmt.Fprintf(out, "--- %s (%s) ---\n%s\n", pod.Labels[synth.LabelStep], pod.Name, logs)
	}
	return nil
}
