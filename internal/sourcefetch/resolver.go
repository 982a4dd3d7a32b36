// Package sourcefetch resolves a workflow.SourceRef into the tarball
// URL internal/synth's fetch-source init container downloads, the way
// the teacher's loki.Client resolves a base URL plus auth into
// concrete request URLs: a small functional-options constructor.
// Resolving a URL makes no network call; FetchTree in tree.go downloads
// the tarball to list its files.
package sourcefetch

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

// Resolver turns a SourceRef into a tarball URL for one VCS host.
type Resolver interface {
	// Host is the `source.host` value this Resolver answers for
	// (github, gitlab, bitbucket).
	Host() string
	// ResolveURL returns the tarball download URL for ref at its branch.
	ResolveURL(ref workflow.SourceRef) (string, error)
}

// Registry looks up the Resolver for a SourceRef's declared host.
type Registry struct {
	httpClient *http.Client
	resolvers  map[string]Resolver
}

// RegistryOption configures a Registry, mirroring the teacher's
// loki.ClientOption shape.
type RegistryOption func(*Registry)

// WithHTTPClient overrides the Registry's HTTP client. None of the
// built-in resolvers issues requests, so it does not change ResolveURL.
func WithHTTPClient(client *http.Client) RegistryOption {
	return func(r *Registry) { r.httpClient = client }
}

// NewRegistry returns a Registry with resolvers for every host CORE
// SPEC §3 names (github, gitlab, bitbucket) pre-registered.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		resolvers:  make(map[string]Resolver),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, res := range []Resolver{
		githubResolver{},
		gitlabResolver{},
		bitbucketResolver{},
	} {
		r.resolvers[res.Host()] = res
	}
	return r
}

// ResolveURL dispatches to the registered Resolver for ref.Host.
func (r *Registry) ResolveURL(ref workflow.SourceRef) (string, error) {
	res, ok := r.resolvers[strings.ToLower(ref.Host)]
	if !ok {
		return "", fmt.Errorf("sourcefetch: unsupported source host %q", ref.Host)
	}
	return res.ResolveURL(ref)
}

// githubResolver resolves a GitHub owner/repo@branch into its codeload
// tarball URL.
type githubResolver struct{}

func (githubResolver) Host() string { return "github" }

func (githubResolver) ResolveURL(ref workflow.SourceRef) (string, error) {
	if ref.Repo == "" || ref.Branch == "" {
		return "", fmt.Errorf("github source requires repo and branch")
	}
	return fmt.Sprintf("https://codeload.github.com/%s/tar.gz/refs/heads/%s", ref.Repo, ref.Branch), nil
}

// gitlabResolver resolves a GitLab project (by path or numeric ID) and
// branch into its archive API URL.
type gitlabResolver struct{}

func (gitlabResolver) Host() string { return "gitlab" }

func (gitlabResolver) ResolveURL(ref workflow.SourceRef) (string, error) {
	project := ref.ID
	if project == "" {
		project = ref.Repo
	}
	if project == "" || ref.Branch == "" {
		return "", fmt.Errorf("gitlab source requires id or repo, and branch")
	}
	return fmt.Sprintf("https://gitlab.com/api/v4/projects/%s/repository/archive.tar.gz?sha=%s",
		pathEscape(project), ref.Branch), nil
}

// bitbucketResolver resolves a Bitbucket owner/repo@branch into its
// archive download URL.
type bitbucketResolver struct{}

func (bitbucketResolver) Host() string { return "bitbucket" }

func (bitbucketResolver) ResolveURL(ref workflow.SourceRef) (string, error) {
	if ref.Repo == "" || ref.Branch == "" {
		return "", fmt.Errorf("bitbucket source requires repo and branch")
	}
	return fmt.Sprintf("https://bitbucket.org/%s/get/%s.tar.gz", ref.Repo, ref.Branch), nil
}

func pathEscape(s string) string {
	return strings.ReplaceAll(s, "/", "%2F")
}
