// Package cluster defines the narrow capability surface of CORE SPEC §4.3:
// the engine touches Kubernetes only through Ensure/Get/List/Delete/Watch
// on a fixed set of kinds, plus a pod-log reader. This is the seam the
// spec calls load-bearing: it is what makes the fake client in
// internal/cluster/fake usable for unit tests and a real client-go client
// usable for integration tests, with no other code caring which backs it.
package cluster

import (
	"context"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/watch"
)

// Kind enumerates the Kubernetes kinds the engine ever touches.
type Kind string

const (
	KindNamespace  Kind = "Namespace"
	KindSecret     Kind = "Secret"
	KindJob        Kind = "Job"
	KindDeployment Kind = "Deployment"
	KindService    Kind = "Service"
	KindIngress    Kind = "Ingress"
	KindCronJob    Kind = "CronJob"
	KindPod        Kind = "Pod"
)

// Object is any typed Kubernetes API object the engine creates or reads.
// Every object client-go hands back (batchv1.Job, appsv1.Deployment, ...)
// satisfies this via runtime.Object plus metav1.Object accessors, which
// the real client type-switches on.
type Object interface {
	runtime.Object
}

// Client is the engine's sole door into Kubernetes.
type Client interface {
	// Ensure creates obj, or replaces it by name if it already exists.
	Ensure(ctx context.Context, obj Object) error
	Get(ctx context.Context, kind Kind, namespace, name string) (Object, error)
	List(ctx context.Context, kind Kind, namespace string, selector map[string]string) ([]Object, error)
	Delete(ctx context.Context, kind Kind, namespace, name string) error
	// Watch yields a finite, restartable-on-disconnect sequence of status
	// events for kind in namespace matching selector.
	Watch(ctx context.Context, kind Kind, namespace string, selector map[string]string) (watch.Interface, error)
	// ReadPodLogs returns up to maxBytes of the tail of container's log
	// stream in pod. previous reads the previously terminated container's
	// log, used for init-container failure diagnostics.
	ReadPodLogs(ctx context.Context, namespace, pod, container string, maxBytes int64, previous bool) (string, error)
	// ServerVersion is the precondition check of CORE SPEC §7
	// ("unsupported Kubernetes version").
	ServerVersion(ctx context.Context) (string, error)
}

// NotFound reports whether err represents a missing object, the one
// distinguished error the rest of the engine branches on (Sweeper
// idempotency, Poller not-found retries).
func NotFound(err error) bool {
	type notFounder interface{ IsNotFound() bool }
	if nf, ok := err.(notFounder); ok {
		return nf.IsNotFound()
	}
	return false
}
