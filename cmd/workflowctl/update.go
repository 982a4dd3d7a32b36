package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openflowctl/workflow-engine/internal/cronspec"
	"github.com/openflowctl/workflow-engine/internal/executor"
	"github.com/openflowctl/workflow-engine/internal/secret"
	"github.com/openflowctl/workflow-engine/internal/sourcefetch"
	"github.com/openflowctl/workflow-engine/internal/synth"
)

// update replaces a workflow or cron workflow's cluster objects with a
// freshly synthesized set from the current config file, the same
// create-or-replace semantics cluster.Client.Ensure already gives every
// object: `update` is `create` run again against a possibly-changed
// config, there is no separate patch path.
func (c *cli) updateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update",
		Short: "replace a workflow or cron workflow with its current config",
	}
	cmd.AddCommand(c.updateWorkflowCmd(), c.updateCronWorkflowCmd())
	return cmd
}

func (c *cli) updateWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <name>",
		Short: "re-run a workflow from its current config, replacing existing objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}

			wf, err := c.loadWorkflow(ctx, client, args[0])
			if err != nil {
				return err
			}
			if c.check {
				c.logger.Info("config is valid", "workflow", wf.Name)
				return nil
			}

			runID := c.id
			if runID == "" {
				runID = uuid.NewString()
			}

			exec := executor.New(client, c.runs, sourcefetch.NewRegistry(), c.logger)
			c.logger.Info("updating workflow", "workflow", wf.Name, "namespace", wf.Namespace, "run", runID)
			if err := exec.Run(ctx, wf, runID); err != nil {
				return err
			}
			c.logger.Info("update succeeded", "workflow", wf.Name, "run", runID)
			return nil
		},
	}
}

func (c *cli) updateCronWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cw <name>",
		Short: "replace a cron workflow's CronJob with the current config/schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if c.schedule == "" {
				return fmt.Errorf("%w: --schedule is required for update cw", errPrecondition)
			}
			if err := cronspec.Validate(c.schedule); err != nil {
				return &cronspecError{err}
			}

			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}

			wf, err := c.loadWorkflow(ctx, client, args[0])
			if err != nil {
				return err
			}
			if c.check {
				c.logger.Info("config is valid", "workflow", wf.Name)
				return nil
			}

			if err := secret.EnsureRepoCredential(ctx, client, wf.Namespace, wf.Name, wf.Source.Token); err != nil {
				return fmt.Errorf("%w: ensuring repo credential: %v", errClusterUnavailable, err)
			}

			resolvers := sourcefetch.NewRegistry()
			sourceURL, err := resolvers.ResolveURL(wf.Source)
			if err != nil {
				return fmt.Errorf("%w: %v", errPrecondition, err)
			}

			bundle := synth.Bundle{
				Namespace:    wf.Namespace,
				WorkflowName: wf.Name,
				SourceURL:    sourceURL,
				SourceToken:  wf.Source.Token,
			}
			if wf.Source.Private() {
				bundle.ImagePullSecret = synth.RepoSecretName(wf.Name)
			}

			cronJob, err := synth.CronJob(bundle, wf, c.schedule)
			if err != nil {
				return err
			}
			if err := client.Ensure(ctx, cronJob); err != nil {
				return fmt.Errorf("%w: ensuring cronjob: %v", errClusterUnavailable, err)
			}

			c.logger.Info("cron workflow updated", "workflow", wf.Name, "schedule", c.schedule, "cronjob", cronJob.Name)
			return nil
		},
	}
}
