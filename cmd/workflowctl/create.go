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

func (c *cli) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "create a workflow, cron workflow, or secret",
	}
	cmd.AddCommand(
		c.createWorkflowCmd(),
		c.createCronWorkflowCmd(),
		c.createSecretCmd(),
	)
	return cmd
}

func (c *cli) createWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <name>",
		Short: "validate, submit, and run a workflow end to end",
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

			if _, err := client.ServerVersion(ctx); err != nil {
				return fmt.Errorf("%w: checking cluster version: %v", errPrecondition, err)
			}

			runID := c.id
			if runID == "" {
				runID = uuid.NewString()
			}

			exec := executor.New(client, c.runs, sourcefetch.NewRegistry(), c.logger)
			c.logger.Info("starting run", "workflow", wf.Name, "namespace", wf.Namespace, "run", runID, "stages", len(wf.Stages))
			if err := exec.Run(ctx, wf, runID); err != nil {
				return err
			}
			c.logger.Info("run succeeded", "workflow", wf.Name, "run", runID)
			return nil
		},
	}
}

func (c *cli) createCronWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cw <name>",
		Short: "materialize a workflow as a recurring CronJob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if c.schedule == "" {
				return fmt.Errorf("%w: --schedule is required for create cw", errPrecondition)
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

			if err := client.Ensure(ctx, synth.Namespace(wf.Namespace, wf.Name)); err != nil {
				return fmt.Errorf("%w: ensuring namespace: %v", errClusterUnavailable, err)
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

			c.logger.Info("cron workflow created", "workflow", wf.Name, "schedule", c.schedule, "cronjob", cronJob.Name)
			return nil
		},
	}
}

func (c *cli) createSecretCmd() *cobra.Command {
	var secretType, registry, username, password string
	var data []string

	cmd := &cobra.Command{
		Use:   "secret <name>",
		Short: "create an opaque or docker-registry secret in the target namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			obj, err := buildSecretObject(c.namespace, args[0], secretType, registry, username, password, data)
			if err != nil {
				return fmt.Errorf("%w: %v", errPrecondition, err)
			}
			if err := client.Ensure(ctx, obj); err != nil {
				return fmt.Errorf("%w: ensuring secret: %v", errClusterUnavailable, err)
			}
			c.logger.Info("secret created", "name", args[0], "namespace", c.namespace, "type", secretType)
			return nil
		},
	}

	cmd.Flags().StringVar(&secretType, "type", "opaque", "opaque or docker-registry")
	cmd.Flags().StringVar(&registry, "registry", "", "registry host (docker-registry secrets only)")
	cmd.Flags().StringVar(&username, "username", "", "registry username (docker-registry secrets only)")
	cmd.Flags().StringVar(&password, "password", "", "registry password (docker-registry secrets only)")
	cmd.Flags().StringArrayVar(&data, "data", nil, "KEY=VALUE data field (opaque secrets only, repeatable)")
	return cmd
}
