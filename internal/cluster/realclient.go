package cluster

import (
	"bytes"
	"context"
	"fmt"
	"io"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

// realClient backs Client with a live kubernetes.Interface, the way the
// teacher's createK8sClient/remediation actions talk to the cluster:
// typed clientsets, no CRDs or dynamic client needed since every kind
// CORE SPEC §4.3 names is a built-in API type.
type realClient struct {
	cs kubernetes.Interface
}

var _ Client = (*realClient)(nil)

// NewFromKubeconfig builds a Client from KUBECONFIG (or the default
// kubeconfig path if unset), mirroring the teacher's out-of-cluster path.
func NewFromKubeconfig(path string) (Client, error) {
	if path == "" {
		path = clientcmd.RecommendedHomeFile
	}
	cfg, err := clientcmd.BuildConfigFromFlags("", path)
	if err != nil {
		return nil, fmt.Errorf("building config from kubeconfig: %w", err)
	}
	return newFromRESTConfig(cfg)
}

// NewInCluster builds a Client from the in-cluster service account,
// mirroring the teacher's in-cluster path.
func NewInCluster() (Client, error) {
	cfg, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("building in-cluster config: %w", err)
	}
	return newFromRESTConfig(cfg)
}

func newFromRESTConfig(cfg *rest.Config) (Client, error) {
	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("building kubernetes client: %w", err)
	}
	return &realClient{cs: cs}, nil
}

func (c *realClient) Ensure(ctx context.Context, obj Object) error {
	meta, ok := obj.(metav1.Object)
	if !ok {
		return fmt.Errorf("object does not implement metav1.Object")
	}
	ns, name := meta.GetNamespace(), meta.GetName()

	switch v := obj.(type) {
	case *corev1.Namespace:
		_, err := c.cs.CoreV1().Namespaces().Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			return nil
		}
		return err
	case *corev1.Secret:
		_, err := c.cs.CoreV1().Secrets(ns).Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			_, err = c.cs.CoreV1().Secrets(ns).Update(ctx, v, metav1.UpdateOptions{})
		}
		return err
	case *batchv1.Job:
		_, err := c.cs.BatchV1().Jobs(ns).Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			if derr := c.cs.BatchV1().Jobs(ns).Delete(ctx, name, metav1.DeleteOptions{}); derr != nil && !apierrors.IsNotFound(derr) {
				return derr
			}
			_, err = c.cs.BatchV1().Jobs(ns).Create(ctx, v, metav1.CreateOptions{})
		}
		return err
	case *appsv1.Deployment:
		_, err := c.cs.AppsV1().Deployments(ns).Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			_, err = c.cs.AppsV1().Deployments(ns).Update(ctx, v, metav1.UpdateOptions{})
		}
		return err
	case *corev1.Service:
		_, err := c.cs.CoreV1().Services(ns).Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			_, err = c.cs.CoreV1().Services(ns).Update(ctx, v, metav1.UpdateOptions{})
		}
		return err
	case *networkingv1.Ingress:
		_, err := c.cs.NetworkingV1().Ingresses(ns).Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			_, err = c.cs.NetworkingV1().Ingresses(ns).Update(ctx, v, metav1.UpdateOptions{})
		}
		return err
	case *batchv1.CronJob:
		_, err := c.cs.BatchV1().CronJobs(ns).Create(ctx, v, metav1.CreateOptions{})
		if apierrors.IsAlreadyExists(err) {
			_, err = c.cs.BatchV1().CronJobs(ns).Update(ctx, v, metav1.UpdateOptions{})
		}
		return err
	default:
		return fmt.Errorf("cluster: Ensure: unsupported object type %T", obj)
	}
}

func (c *realClient) Get(ctx context.Context, kind Kind, namespace, name string) (Object, error) {
	switch kind {
	case KindNamespace:
		return c.cs.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	case KindSecret:
		return c.cs.CoreV1().Secrets(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindJob:
		return c.cs.BatchV1().Jobs(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindDeployment:
		return c.cs.AppsV1().Deployments(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindService:
		return c.cs.CoreV1().Services(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindIngress:
		return c.cs.NetworkingV1().Ingresses(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindCronJob:
		return c.cs.BatchV1().CronJobs(namespace).Get(ctx, name, metav1.GetOptions{})
	case KindPod:
		return c.cs.CoreV1().Pods(namespace).Get(ctx, name, metav1.GetOptions{})
	default:
		return nil, fmt.Errorf("cluster: Get: unsupported kind %s", kind)
	}
}

func (c *realClient) List(ctx context.Context, kind Kind, namespace string, selector map[string]string) ([]Object, error) {
	opts := metav1.ListOptions{LabelSelector: labels.SelectorFromSet(selector).String()}
	switch kind {
	case KindSecret:
		list, err := c.cs.CoreV1().Secrets(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	case KindJob:
		list, err := c.cs.BatchV1().Jobs(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	case KindDeployment:
		list, err := c.cs.AppsV1().Deployments(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	case KindService:
		list, err := c.cs.CoreV1().Services(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	case KindIngress:
		list, err := c.cs.NetworkingV1().Ingresses(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	case KindCronJob:
		list, err := c.cs.BatchV1().CronJobs(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	case KindPod:
		list, err := c.cs.CoreV1().Pods(namespace).List(ctx, opts)
		if err != nil {
			return nil, err
		}
		out := make([]Object, len(list.Items))
		for i := range list.Items {
			out[i] = &list.Items[i]
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cluster: List: unsupported kind %s", kind)
	}
}

func (c *realClient) Delete(ctx context.Context, kind Kind, namespace, name string) error {
	var err error
	switch kind {
	case KindNamespace:
		err = c.cs.CoreV1().Namespaces().Delete(ctx, name, metav1.DeleteOptions{})
	case KindSecret:
		err = c.cs.CoreV1().Secrets(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindJob:
		policy := metav1.DeletePropagationForeground
		err = c.cs.BatchV1().Jobs(namespace).Delete(ctx, name, metav1.DeleteOptions{PropagationPolicy: &policy})
	case KindDeployment:
		err = c.cs.AppsV1().Deployments(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindService:
		err = c.cs.CoreV1().Services(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindIngress:
		err = c.cs.NetworkingV1().Ingresses(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindCronJob:
		err = c.cs.BatchV1().CronJobs(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	case KindPod:
		err = c.cs.CoreV1().Pods(namespace).Delete(ctx, name, metav1.DeleteOptions{})
	default:
		return fmt.Errorf("cluster: Delete: unsupported kind %s", kind)
	}
	if apierrors.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *realClient) Watch(ctx context.Context, kind Kind, namespace string, selector map[string]string) (watch.Interface, error) {
	opts := metav1.ListOptions{LabelSelector: labels.SelectorFromSet(selector).String()}
	switch kind {
	case KindPod:
		return c.cs.CoreV1().Pods(namespace).Watch(ctx, opts)
	case KindJob:
		return c.cs.BatchV1().Jobs(namespace).Watch(ctx, opts)
	case KindDeployment:
		return c.cs.AppsV1().Deployments(namespace).Watch(ctx, opts)
	default:
		return nil, fmt.Errorf("cluster: Watch: unsupported kind %s", kind)
	}
}

func (c *realClient) ReadPodLogs(ctx context.Context, namespace, pod, container string, maxBytes int64, previous bool) (string, error) {
	req := c.cs.CoreV1().Pods(namespace).GetLogs(pod, &corev1.PodLogOptions{
		Container: container,
		Previous:  previous,
	})
	stream, err := req.Stream(ctx)
	if err != nil {
		return "", fmt.Errorf("opening log stream: %w", err)
	}
	defer stream.Close()

	var buf bytes.Buffer
	_, err = io.Copy(&buf, stream)
	out := buf.Bytes()
	if int64(len(out)) > maxBytes {
		out = out[int64(len(out))-maxBytes:]
	}
	if err != nil {
		return string(out), fmt.Errorf("reading log stream: %w", err)
	}
	return string(out), nil
}

func (c *realClient) ServerVersion(ctx context.Context) (string, error) {
	v, err := c.cs.Discovery().ServerVersion()
	if err != nil {
		return "", fmt.Errorf("querying server version: %w", err)
	}
	return v.String(), nil
}
