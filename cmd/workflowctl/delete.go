package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/sweeper"
)

func (c *cli) deleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "delete a workflow, cron workflow, or secret and sweep its objects",
	}
	cmd.AddCommand(c.deleteWorkflowCmd(), c.deleteCronWorkflowCmd(), c.deleteSecretCmd())
	return cmd
}

func (c *cli) deleteWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflow <name>",
		Short: "sweep every object a workflow owns, including its repo-credential secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			sw := sweeper.New(client)
			if err := sw.SweepWorkflow(ctx, c.namespace, args[0]); err != nil {
				return fmt.Errorf("%w: sweeping workflow %s: %v", errClusterUnavailable, args[0], err)
			}
			c.logger.Info("workflow deleted", "workflow", args[0], "namespace", c.namespace)
			return nil
		},
	}
}

func (c *cli) deleteCronWorkflowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cw <name>",
		Short: "remove a cron workflow's CronJob",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			sw := sweeper.New(client)
			if err := sw.SweepWorkflow(ctx, c.namespace, args[0]); err != nil {
				return fmt.Errorf("%w: sweeping cron workflow %s: %v", errClusterUnavailable, args[0], err)
			}
			c.logger.Info("cron workflow deleted", "workflow", args[0], "namespace", c.namespace)
			return nil
		},
	}
}

func (c *cli) deleteSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "secret <name>",
		Short: "delete a secret from the target namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client, err := c.clusterClient()
			if err != nil {
				return fmt.Errorf("%w: %v", errClusterUnavailable, err)
			}
			if err := client.Delete(ctx, cluster.KindSecret, c.namespace, args[0]); err != nil {
				return fmt.Errorf("%w: deleting secret %s: %v", errClusterUnavailable, args[0], err)
			}
			c.logger.Info("secret deleted", "name", args[0], "namespace", c.namespace)
			return nil
		},
	}
}
