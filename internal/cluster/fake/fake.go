// Package fake provides an in-memory cluster.Client for unit tests, the
// same role the teacher's store/memory.go mutex-protected map plays for
// its in-process run log: a fast, deterministic stand-in that lets
// executor/poller/sweeper tests run without a real API server.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"

	"github.com/openflowctl/workflow-engine/internal/cluster"
)

type key struct {
	kind      cluster.Kind
	namespace string
	name      string
}

// notFoundError satisfies the notFounder interface cluster.NotFound checks.
type notFoundError struct{ key key }

func (e *notFoundError) Error() string {
	return fmt.Sprintf("%s %s/%s not found", e.key.kind, e.key.namespace, e.key.name)
}
func (e *notFoundError) IsNotFound() bool { return true }

type watchKey struct {
	kind      cluster.Kind
	namespace string
}

// Client is an in-memory cluster.Client. The zero value is not usable;
// construct with New.
type Client struct {
	mu      sync.Mutex
	objects map[key]cluster.Object
	logs    map[key]string
	version string

	watchers map[watchKey][]*watch.RaceFreeFakeWatcher

	// Deleted records every Delete call in order, for assertions about
	// sweep ordering.
	Deleted []string
}

var _ cluster.Client = (*Client)(nil)

// New returns an empty fake Client reporting serverVersion from
// ServerVersion.
func New(serverVersion string) *Client {
	return &Client{
		objects:  make(map[key]cluster.Object),
		logs:     make(map[key]string),
		version:  serverVersion,
		watchers: make(map[watchKey][]*watch.RaceFreeFakeWatcher),
	}
}

// kindOf resolves cluster.Kind from the concrete Go type, the same
// type-switch the real client's Ensure uses, so callers never need to
// tag objects with a kind by hand.
func kindOf(obj cluster.Object) (cluster.Kind, error) {
	switch obj.(type) {
	case *corev1.Namespace:
		return cluster.KindNamespace, nil
	case *corev1.Secret:
		return cluster.KindSecret, nil
	case *batchv1.Job:
		return cluster.KindJob, nil
	case *appsv1.Deployment:
		return cluster.KindDeployment, nil
	case *corev1.Service:
		return cluster.KindService, nil
	case *networkingv1.Ingress:
		return cluster.KindIngress, nil
	case *batchv1.CronJob:
		return cluster.KindCronJob, nil
	case *corev1.Pod:
		return cluster.KindPod, nil
	default:
		return "", fmt.Errorf("fake: unsupported object type %T", obj)
	}
}

func keyOf(kind cluster.Kind, obj cluster.Object) (key, error) {
	meta, ok := obj.(metav1.Object)
	if !ok {
		return key{}, fmt.Errorf("fake: object does not implement metav1.Object")
	}
	return key{kind: kind, namespace: meta.GetNamespace(), name: meta.GetName()}, nil
}

// Ensure implements cluster.Client.
func (c *Client) Ensure(_ context.Context, obj cluster.Object) error {
	kind, err := kindOf(obj)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k, err := keyOf(kind, obj)
	if err != nil {
		return err
	}
	eventType := watch.Added
	if _, exists := c.objects[k]; exists {
		eventType = watch.Modified
	}
	c.objects[k] = obj
	c.notifyLocked(kind, k.namespace, eventType, obj)
	return nil
}

func (c *Client) Get(_ context.Context, kind cluster.Kind, namespace, name string) (cluster.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{kind: kind, namespace: namespace, name: name}
	obj, ok := c.objects[k]
	if !ok {
		return nil, &notFoundError{key: k}
	}
	return obj, nil
}

func (c *Client) List(_ context.Context, kind cluster.Kind, namespace string, selector map[string]string) ([]cluster.Object, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []key
	for k, obj := range c.objects {
		if k.kind != kind || k.namespace != namespace {
			continue
		}
		if !labelsMatch(obj, selector) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].name < keys[j].name })

	out := make([]cluster.Object, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.objects[k])
	}
	return out, nil
}

func labelsMatch(obj cluster.Object, selector map[string]string) bool {
	if len(selector) == 0 {
		return true
	}
	meta, ok := obj.(metav1.Object)
	if !ok {
		return false
	}
	have := meta.GetLabels()
	for k, v := range selector {
		if have[k] != v {
			return false
		}
	}
	return true
}

func (c *Client) Delete(_ context.Context, kind cluster.Kind, namespace, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key{kind: kind, namespace: namespace, name: name}
	obj, ok := c.objects[k]
	c.Deleted = append(c.Deleted, fmt.Sprintf("%s/%s/%s", kind, namespace, name))
	if !ok {
		return nil // idempotent, per the sweeper's absent-means-done semantics
	}
	delete(c.objects, k)
	c.notifyLocked(kind, namespace, watch.Deleted, obj)
	return nil
}

func (c *Client) Watch(_ context.Context, kind cluster.Kind, namespace string, selector map[string]string) (watch.Interface, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := watch.NewRaceFreeFake()
	wk := watchKey{kind: kind, namespace: namespace}
	c.watchers[wk] = append(c.watchers[wk], w)

	for k, obj := range c.objects {
		if k.kind != kind || k.namespace != namespace {
			continue
		}
		if !labelsMatch(obj, selector) {
			continue
		}
		w.Add(obj)
	}
	return w, nil
}

func (c *Client) notifyLocked(kind cluster.Kind, namespace string, eventType watch.EventType, obj cluster.Object) {
	wk := watchKey{kind: kind, namespace: namespace}
	for _, w := range c.watchers[wk] {
		switch eventType {
		case watch.Added:
			w.Add(obj)
		case watch.Modified:
			w.Modify(obj)
		case watch.Deleted:
			w.Delete(obj)
		}
	}
}

// Modify is a test helper that updates an already-Ensured object in
// place (e.g. flipping a Job's status to Succeeded) and emits a
// Modified watch event, simulating a controller reconciling the
// resource out from under the poller.
func (c *Client) Modify(obj cluster.Object) error {
	kind, err := kindOf(obj)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	k, err := keyOf(kind, obj)
	if err != nil {
		return err
	}
	if _, ok := c.objects[k]; !ok {
		return &notFoundError{key: k}
	}
	c.objects[k] = obj
	c.notifyLocked(kind, k.namespace, watch.Modified, obj)
	return nil
}

// SetPodLogs seeds the log content ReadPodLogs returns for a given pod
// container.
func (c *Client) SetPodLogs(namespace, pod, container, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logs[key{kind: cluster.KindPod, namespace: namespace, name: pod + "/" + container}] = content
}

func (c *Client) ReadPodLogs(_ context.Context, namespace, pod, container string, maxBytes int64, _ bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	content := c.logs[key{kind: cluster.KindPod, namespace: namespace, name: pod + "/" + container}]
	if int64(len(content)) > maxBytes {
		content = content[len(content)-int(maxBytes):]
	}
	return content, nil
}

func (c *Client) ServerVersion(_ context.Context) (string, error) {
	return c.version, nil
}
