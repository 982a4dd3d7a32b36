package sweeper

import (
	"context"
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/openflowctl/workflow-engine/internal/cluster"
	"github.com/openflowctl/workflow-engine/internal/cluster/fake"
	"github.com/openflowctl/workflow-engine/internal/synth"
)

const (
	testNamespace = "ml-team"
	testWorkflow  = "train-pipeline"
	testRun       = "run-1"
)

func seedRunObjects(t *testing.T, client *fake.Client, namespace, workflowName, runID string) {
	t.Helper()
	labels := synth.RunSelector(workflowName, runID)

	job := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "fit", Namespace: namespace, Labels: labels}}
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: namespace, Labels: labels}}
	ing := &networkingv1.Ingress{ObjectMeta: metav1.ObjectMeta{Name: "api", Namespace: namespace, Labels: labels}}

	for _, obj := range []cluster.Object{job, svc, ing} {
		if err := client.Ensure(context.Background(), obj); err != nil {
			t.Fatalf("seeding fixture object: %v", err)
		}
	}
}

func TestSweepRunDeletesEveryLabeledObjectInReverseCreationOrder(t *testing.T) {
	client := fake.New("v1.29.0")
	seedRunObjects(t, client, testNamespace, testWorkflow, testRun)

	if err := New(client).SweepRun(context.Background(), testNamespace, testWorkflow, testRun); err != nil {
		t.Fatalf("SweepRun: %v", err)
	}

	if len(client.Deleted) != 3 {
		t.Fatalf("Deleted = %v, want 3 entries", client.Deleted)
	}
	want := []string{
		string(cluster.KindIngress) + "/" + testNamespace + "/api",
		string(cluster.KindService) + "/" + testNamespace + "/api",
		string(cluster.KindJob) + "/" + testNamespace + "/fit",
	}
	for i, w := range want {
		if client.Deleted[i] != w {
			t.Errorf("Deleted[%d] = %q, want %q (delete order must precede dependents before owners)", i, client.Deleted[i], w)
		}
	}
}

func TestSweepRunLeavesTheNamespaceAndWorkflowSecretAlone(t *testing.T) {
	client := fake.New("v1.29.0")
	seedRunObjects(t, client, testNamespace, testWorkflow, testRun)

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: testNamespace}}
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: synth.RepoSecretName(testWorkflow), Namespace: testNamespace}}
	if err := client.Ensure(context.Background(), ns); err != nil {
		t.Fatal(err)
	}
	if err := client.Ensure(context.Background(), secret); err != nil {
		t.Fatal(err)
	}

	if err := New(client).SweepRun(context.Background(), testNamespace, testWorkflow, testRun); err != nil {
		t.Fatalf("SweepRun: %v", err)
	}

	if _, err := client.Get(context.Background(), cluster.KindNamespace, "", testNamespace); err != nil {
		t.Errorf("namespace was deleted by SweepRun, want it left alone: %v", err)
	}
	if _, err := client.Get(context.Background(), cluster.KindSecret, testNamespace, synth.RepoSecretName(testWorkflow)); err != nil {
		t.Errorf("repo secret was deleted by SweepRun, want it left alone: %v", err)
	}
}

func TestSweepRunIsIdempotentOnAnAlreadyEmptySelector(t *testing.T) {
	client := fake.New("v1.29.0")
	if err := New(client).SweepRun(context.Background(), testNamespace, testWorkflow, testRun); err != nil {
		t.Fatalf("SweepRun on an empty namespace returned an error, want idempotent success: %v", err)
	}
}

func TestSweepWorkflowDeletesTheRepoSecret(t *testing.T) {
	client := fake.New("v1.29.0")
	seedRunObjects(t, client, testNamespace, testWorkflow, testRun)
	secretName := synth.RepoSecretName(testWorkflow)
	secret := &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: secretName, Namespace: testNamespace}}
	if err := client.Ensure(context.Background(), secret); err != nil {
		t.Fatal(err)
	}

	if err := New(client).SweepWorkflow(context.Background(), testNamespace, testWorkflow); err != nil {
		t.Fatalf("SweepWorkflow: %v", err)
	}

	if _, err := client.Get(context.Background(), cluster.KindSecret, testNamespace, secretName); !cluster.NotFound(err) {
		t.Errorf("repo secret still present after SweepWorkflow, err=%v", err)
	}
}

func TestSweepWorkflowDeletesANamespaceItCreatedOnceEmptyOfOtherWorkflows(t *testing.T) {
	client := fake.New("v1.29.0")
	seedRunObjects(t, client, testNamespace, testWorkflow, testRun)
	ns := synth.Namespace(testNamespace, testWorkflow)
	if err := client.Ensure(context.Background(), ns); err != nil {
		t.Fatal(err)
	}

	if err := New(client).SweepWorkflow(context.Background(), testNamespace, testWorkflow); err != nil {
		t.Fatalf("SweepWorkflow: %v", err)
	}

	if _, err := client.Get(context.Background(), cluster.KindNamespace, "", testNamespace); !cluster.NotFound(err) {
		t.Errorf("namespace created for the sole workflow should have been deleted, err=%v", err)
	}
}

func TestSweepWorkflowKeepsANamespaceStillUsedByAnotherWorkflow(t *testing.T) {
	client := fake.New("v1.29.0")
	seedRunObjects(t, client, testNamespace, testWorkflow, testRun)
	ns := synth.Namespace(testNamespace, testWorkflow)
	if err := client.Ensure(context.Background(), ns); err != nil {
		t.Fatal(err)
	}

	otherLabels := synth.WorkflowSelector("other-workflow")
	otherJob := &batchv1.Job{ObjectMeta: metav1.ObjectMeta{Name: "other-fit", Namespace: testNamespace, Labels: otherLabels}}
	if err := client.Ensure(context.Background(), otherJob); err != nil {
		t.Fatal(err)
	}

	if err := New(client).SweepWorkflow(context.Background(), testNamespace, testWorkflow); err != nil {
		t.Fatalf("SweepWorkflow: %v", err)
	}

	if _, err := client.Get(context.Background(), cluster.KindNamespace, "", testNamespace); err != nil {
		t.Errorf("namespace still used by another workflow was deleted: %v", err)
	}
}

func TestSweepWorkflowLeavesAnOperatorCreatedNamespaceAlone(t *testing.T) {
	client := fake.New("v1.29.0")
	seedRunObjects(t, client, testNamespace, testWorkflow, testRun)
	// A namespace that exists but carries none of this engine's labels,
	// as if an operator pointed the workflow at a pre-existing namespace.
	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: testNamespace}}
	if err := client.Ensure(context.Background(), ns); err != nil {
		t.Fatal(err)
	}

	if err := New(client).SweepWorkflow(context.Background(), testNamespace, testWorkflow); err != nil {
		t.Fatalf("SweepWorkflow: %v", err)
	}

	if _, err := client.Get(context.Background(), cluster.KindNamespace, "", testNamespace); err != nil {
		t.Errorf("operator-owned namespace was deleted, want it left alone: %v", err)
	}
}
