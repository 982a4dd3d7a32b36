package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/config"
	"github.com/openflowctl/workflow-engine/internal/run"
	"github.com/openflowctl/workflow-engine/internal/sourcefetch"
	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// cli holds the global flags and the one logger every command shares,
// threaded explicitly through constructors instead of package globals
// (CORE SPEC Design Notes §9).
type cli struct {
	logger *slog.Logger

	namespace string
	file      string
	branch    string
	token     string
	id        string
	check     bool
	schedule  string
	showLogs  bool

	runs *run.Store
}

func newCLI(logger *slog.Logger) *cli {
	return &cli{logger: logger, runs: run.NewStore()}
}

func (c *cli) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "workflowctl",
		Short:         "workflowctl — run declarative ML workflows as Kubernetes jobs and deployments",
		Long:          "workflowctl compiles a YAML workflow description into a dependency-ordered\nsequence of Kubernetes Jobs and Deployments, submits them to a cluster,\nand polls their progress until every stage terminates.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.namespace, "namespace", "ns", "default", "target Kubernetes namespace")
	root.PersistentFlags().StringVarP(&c.file, "file", "f", "config.yaml", "path to the workflow config file, relative to the fetched source root")
	root.PersistentFlags().StringVarP(&c.branch, "branch", "b", "main", "source repository branch")
	root.PersistentFlags().StringVarP(&c.token, "token", "t", os.Getenv("GITHUB_ACCESS_TOKEN"), "source repository access token (private repos only)")
	root.PersistentFlags().StringVar(&c.id, "id", "", "explicit run or workflow identifier override")
	root.PersistentFlags().BoolVar(&c.check, "check", false, "validate the config and exit without touching the cluster")
	root.PersistentFlags().StringVar(&c.schedule, "schedule", "", "five-field cron expression (create/update cw only)")
	root.PersistentFlags().BoolVar(&c.showLogs, "logs", false, "include captured step logs in `get workflow` output")

	root.AddCommand(
		c.createCmd(),
		c.updateCmd(),
		c.deleteCmd(),
		c.getCmd(),
	)
	return root
}

// clusterClient builds a cluster.Client from KUBECONFIG, the one piece
// of ambient environment CORE SPEC §6 names as consumed by the engine.
func (c *cli) clusterClient() (cluster.Client, error) {
	kubeconfig := os.Getenv("KUBECONFIG")
	if kubeconfig == "" {
		client, err := cluster.NewInCluster()
		if err == nil {
			return client, nil
		}
		// Fall through to the default kubeconfig path; NewFromKubeconfig's
		// own clientcmd call resolves "" to the recommended home file.
	}
	return cluster.NewFromKubeconfig(kubeconfig)
}

// loadWorkflow runs the Config Loader & Validator end to end: a first
// pass with an always-present SourceTree to discover the workflow's
// source reference (needed before any tarball can be fetched), then a
// second pass with the real fetched tree and the namespace's actual
// secrets, which is the pass whose result is actually used. Two passes
// mirrors the chicken-and-egg CORE SPEC §4.1 describes implicitly:
// file-existence validation needs a checkout that itself depends on
// the config's own `source` block.
func (c *cli) loadWorkflow(ctx context.Context, client cluster.Client, defaultName string) (*workflow.Workflow, error) {
	data, err := os.ReadFile(c.file)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file %s: %v", errPrecondition, c.file, err)
	}

	baseSource := workflow.SourceRef{Branch: c.branch, Token: c.token, ID: c.id}

	discovery, err := config.Load(data, config.LoadOptions{
		DefaultName: defaultName,
		Namespace:   c.namespace,
		Source:      baseSource,
		Tree:        config.AlwaysPresent,
	})
	if err != nil {
		return nil, err
	}

	if c.check {
		return discovery, nil
	}

	resolvers := sourcefetch.NewRegistry()
	sourceURL, err := resolvers.ResolveURL(discovery.Source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPrecondition, err)
	}
	tree, err := sourcefetch.FetchTree(ctx, &http.Client{Timeout: 60 * time.Second}, sourceURL, discovery.Source.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: fetching source tree: %v", errPrecondition, err)
	}

	knownSecrets, err := c.knownSecrets(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errClusterUnavailable, err)
	}

	return config.Load(data, config.LoadOptions{
		DefaultName:  defaultName,
		Namespace:    c.namespace,
		Source:       baseSource,
		KnownSecrets: knownSecrets,
		Tree:         tree,
	})
}

func (c *cli) knownSecrets(ctx context.Context, client cluster.Client) (map[string]workflow.SecretType, error) {
	objs, err := client.List(ctx, cluster.KindSecret, c.namespace, nil)
	if err != nil {
		return nil, err
	}
	out := make(map[string]workflow.SecretType, len(objs))
	for _, obj := range objs {
		sec, ok := obj.(*corev1.Secret)
		if !ok {
			continue
		}
		out[sec.Name] = secretTypeOf(sec)
	}
	return out, nil
}

// secretTypeOf maps a client-go Secret's Type onto the engine's
// two-member SecretType enum (CORE SPEC §3: opaque or docker-registry);
// any other Kubernetes-builtin type (e.g. TLS, service-account-token)
// is treated as opaque for envFrom/imagePullSecrets routing purposes,
// since the engine never creates those itself.
func secretTypeOf(sec *corev1.Secret) workflow.SecretType {
	if sec.Type == corev1.SecretTypeDockerConfigJson {
		return workflow.SecretDockerRegistry
	}
	return workflow.SecretOpaque
}
