package synth

import (
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"

	"github.com/openflowctl/workflow-engine/internal/workflow"
)

const ingressClassName = "nginx"

// Deployment synthesizes a service Step into an appsv1.Deployment with
// the replica/revision/minReadySeconds knobs CORE SPEC §3 exposes for
// service steps.
func Deployment(b Bundle, stage string, step workflow.Step) (*appsv1.Deployment, error) {
	spec, err := podSpec(b, step)
	if err != nil {
		return nil, err
	}

	meta := objectMeta(b, stage, step)
	replicas := step.Replicas
	revisionHistory := step.RevisionHistoryLimit

	return &appsv1.Deployment{
		ObjectMeta: meta,
		Spec: appsv1.DeploymentSpec{
			Replicas:             &replicas,
			RevisionHistoryLimit: &revisionHistory,
			MinReadySeconds:      step.MinReadySeconds,
			Selector:             &metav1.LabelSelector{MatchLabels: meta.Labels},
			Template:             corev1PodTemplate(meta, spec),
		},
	}, nil
}

// Service synthesizes the ClusterIP Service fronting a service step's
// Deployment. Always produced for a service step, regardless of
// whether ingress is requested, since other steps in later stages may
// need in-cluster DNS to reach it.
func Service(b Bundle, stage string, step workflow.Step) *corev1.Service {
	meta := objectMeta(b, stage, step)
	port := step.Service.Port

	return &corev1.Service{
		ObjectMeta: meta,
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: meta.Labels,
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       port,
					TargetPort: intstr.FromInt(int(port)),
				},
			},
		},
	}
}

// Ingress synthesizes the optional Ingress for a service step that set
// `ingress: true`, hosted at <step>.<workflow>.<namespace>.local (no
// external DNS dependency is assumed for a CLI-orchestrated, short-lived
// workload).
func Ingress(b Bundle, stage string, step workflow.Step) *networkingv1.Ingress {
	meta := objectMeta(b, stage, step)
	pathType := networkingv1.PathTypePrefix
	className := ingressClassName
	host := step.Name + "." + b.WorkflowName + "." + b.Namespace + ".local"

	return &networkingv1.Ingress{
		ObjectMeta: meta,
		Spec: networkingv1.IngressSpec{
			IngressClassName: &className,
			Rules: []networkingv1.IngressRule{
				{
					Host: host,
					IngressRuleValue: networkingv1.IngressRuleValue{
						HTTP: &networkingv1.HTTPIngressRuleValue{
							Paths: []networkingv1.HTTPIngressPath{
								{
									Path:     "/",
									PathType: &pathType,
									Backend: networkingv1.IngressBackend{
										Service: &networkingv1.IngressServiceBackend{
											Name: meta.Name,
											Port: networkingv1.ServiceBackendPort{Number: step.Service.Port},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}
