package statestore

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/balaji-balu/converge/pkg/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "converge.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRun(runID, name string, outcome model.RunOutcome) *model.ReconciliationRun {
	now := time.Now()
	return &model.ReconciliationRun{
		RunID:          runID,
		DeploymentName: name,
		Outcome:        outcome,
		Records: []*model.ResourceRecord{
			{ID: "registry/" + name, Kind: model.KindRegistry, Name: name, Status: model.StatusPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestSaveAndGetRun(t *testing.T) {
	s := openTestStore(t)
	run := testRun("run-1", "demo", model.OutcomeInProgress)
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	got, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.DeploymentName != "demo" || got.Outcome != model.OutcomeInProgress {
		t.Errorf("unexpected run: %+v", got)
	}
	if len(got.Records) != 1 || got.Records[0].ID != "registry/demo" {
		t.Errorf("records not round-tripped: %+v", got.Records)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetRun("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
	if _, err := s.LoadLatest("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

func TestActiveIndexFollowsOutcome(t *testing.T) {
	s := openTestStore(t)
	run := testRun("run-1", "demo", model.OutcomeInProgress)
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	active, err := s.ListActiveRuns()
	if err != nil {
		t.Fatalf("ListActiveRuns failed: %v", err)
	}
	if len(active) != 1 || active[0].RunID != "run-1" {
		t.Fatalf("expected run-1 active, got %+v", active)
	}

	run.Outcome = model.OutcomeConverged
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	active, err = s.ListActiveRuns()
	if err != nil {
		t.Fatalf("ListActiveRuns failed: %v", err)
	}
	if len(active) != 0 {
		t.Errorf("expected no active runs, got %d", len(active))
	}
}

// Later runs supersede earlier ones; history keeps both.
func TestHistorySupersedes(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveRun(testRun("run-1", "demo", model.OutcomeConverged)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}
	if err := s.SaveRun(testRun("run-2", "demo", model.OutcomePartiallyFailed)); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	latest, err := s.LoadLatest("demo")
	if err != nil {
		t.Fatalf("LoadLatest failed: %v", err)
	}
	if latest.RunID != "run-2" {
		t.Errorf("latest run is %s, want run-2", latest.RunID)
	}

	history, err := s.History("demo")
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 || history[0].RunID != "run-1" || history[1].RunID != "run-2" {
		t.Errorf("unexpected history: %+v", history)
	}

	names, err := s.ListDeployments()
	if err != nil {
		t.Fatalf("ListDeployments failed: %v", err)
	}
	if len(names) != 1 || names[0] != "demo" {
		t.Errorf("unexpected deployments: %v", names)
	}
}

func TestDriftReportRoundTrip(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.LatestDriftReport("demo"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound before first check", err)
	}

	rep := &model.DriftReport{
		DeploymentName: "demo",
		RunID:          "run-1",
		CheckedAt:      time.Now(),
		Resources: map[string][]model.FieldChange{
			"compute-service/demo": {{Field: "replicas", Expected: "1", Actual: "5"}},
		},
	}
	if err := s.SaveDriftReport(rep); err != nil {
		t.Fatalf("SaveDriftReport failed: %v", err)
	}

	got, err := s.LatestDriftReport("demo")
	if err != nil {
		t.Fatalf("LatestDriftReport failed: %v", err)
	}
	if !got.Drifted() {
		t.Fatal("report lost its changes")
	}
	changes := got.Resources["compute-service/demo"]
	if len(changes) != 1 || changes[0].Field != "replicas" {
		t.Errorf("unexpected changes: %+v", changes)
	}
}
