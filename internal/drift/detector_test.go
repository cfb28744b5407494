package drift

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/provider"
	"github.com/balaji-balu/converge/internal/reconciler"
	"github.com/balaji-balu/converge/internal/statestore"
	"github.com/balaji-balu/converge/pkg/model"
)

func converged(t *testing.T) (*Detector, *provider.Local, *statestore.Store) {
	t.Helper()
	store, err := statestore.Open(filepath.Join(t.TempDir(), "converge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	local := provider.NewLocal()
	mgr := reconciler.New(store, local, zap.NewNop(),
		reconciler.WithBackoff(reconciler.Backoff{Base: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond, MaxAttempts: 3}),
	)
	ds := &model.DesiredState{
		DeploymentName: "demo",
		ImageReference: "repo:v1",
		ReplicaCount:   1,
		CPUUnits:       256,
		MemoryMiB:      512,
		ContainerPort:  80,
		NetworkSpec: model.NetworkSpec{
			CIDR:        "10.0.0.0/16",
			SubnetCIDRs: []string{"10.0.1.0/24"},
		},
	}
	run, err := mgr.Submit(context.Background(), ds)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := mgr.Wait(ctx, run.RunID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Outcome != model.OutcomeConverged {
		t.Fatalf("setup run outcome = %s, want converged", final.Outcome)
	}

	return New(store, local, nil, zap.NewNop(), time.Hour), local, store
}

func TestNoDriftAfterConvergence(t *testing.T) {
	det, _, _ := converged(t)
	rep, err := det.Check(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if rep == nil {
		t.Fatal("expected a report for a converged deployment")
	}
	if rep.Drifted() {
		t.Errorf("unexpected drift: %+v", rep.Resources)
	}
}

func TestDetectsFieldDrift(t *testing.T) {
	det, local, store := converged(t)
	svcID := model.RecordID(model.KindComputeService, "demo")
	local.SetAttribute(svcID, "replicas", "5")

	rep, err := det.Check(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if !rep.Drifted() {
		t.Fatal("drift not detected")
	}
	changes := rep.Resources[svcID]
	if len(changes) != 1 {
		t.Fatalf("expected exactly one change, got %+v", changes)
	}
	if changes[0].Field != "replicas" || changes[0].Expected != "1" || changes[0].Actual != "5" {
		t.Errorf("unexpected change: %+v", changes[0])
	}
	if len(rep.Resources) != 1 {
		t.Errorf("only the service should have drifted, got %d resources", len(rep.Resources))
	}

	// Reports are persisted for later retrieval.
	saved, err := store.LatestDriftReport("demo")
	if err != nil {
		t.Fatalf("LatestDriftReport failed: %v", err)
	}
	if !saved.Drifted() {
		t.Error("persisted report lost its changes")
	}
}

// An ingress rule added out of band to a policy whose desired state carries
// none must still register as drift.
func TestDetectsDriftOnClearedField(t *testing.T) {
	det, local, _ := converged(t)
	polID := model.RecordID(model.KindSecurityPolicy, "demo")
	local.SetAttribute(polID, "ingress", "22/tcp from 0.0.0.0/0")

	rep, err := det.Check(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	changes := rep.Resources[polID]
	if len(changes) != 1 || changes[0].Field != "ingress" {
		t.Fatalf("expected one ingress change, got %+v", changes)
	}
	if changes[0].Expected != "" || changes[0].Actual != "22/tcp from 0.0.0.0/0" {
		t.Errorf("unexpected change: %+v", changes[0])
	}
}

func TestDetectsMissingResource(t *testing.T) {
	det, local, _ := converged(t)
	subID := model.RecordID(model.KindSubnet, "demo-0")
	local.Drop(subID)

	rep, err := det.Check(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	changes := rep.Resources[subID]
	if len(changes) != 1 || changes[0].Field != "resource" || changes[0].Actual != "missing" {
		t.Errorf("missing resource not reported: %+v", changes)
	}
}

func TestSkipsUnconvergedDeployments(t *testing.T) {
	store, err := statestore.Open(filepath.Join(t.TempDir(), "converge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	now := time.Now()
	run := &model.ReconciliationRun{
		RunID:          "run-1",
		DeploymentName: "demo",
		Outcome:        model.OutcomePartiallyFailed,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	det := New(store, provider.NewLocal(), nil, zap.NewNop(), time.Hour)
	rep, err := det.Check(context.Background(), "demo")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if rep != nil {
		t.Errorf("expected no report for an unconverged deployment, got %+v", rep)
	}
}
