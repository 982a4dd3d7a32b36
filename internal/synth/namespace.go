package synth

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// Namespace synthesizes the target namespace a workflow runs in,
// labeled so the sweeper can tell whether it was created by this
// engine (and is therefore safe to delete once empty) versus a
// pre-existing namespace the operator pointed the workflow at.
func Namespace(name, workflowName string) *corev1.Namespace {
	return &corev1.Namespace{
		ObjectMeta: metav1.ObjectMeta{
			Name: name,
			Labels: map[string]string{
				LabelManagedBy: ManagedByValue,
				LabelWorkflow:  workflowName,
			},
		},
	}
}
