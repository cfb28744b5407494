package provider

import (
	"context"
	"testing"

	"github.com/balaji-balu/converge/pkg/model"
)

func serviceRecord() *model.ResourceRecord {
	return &model.ResourceRecord{
		ID:   model.RecordID(model.KindComputeService, "demo"),
		Kind: model.KindComputeService,
		Name: "demo",
		Spec: model.ResourceSpec{Image: "repo:v1", Replicas: 2, Port: 80},
	}
}

func TestReadMissingIsNotAnError(t *testing.T) {
	l := NewLocal()
	res, err := l.Read(context.Background(), serviceRecord())
	if err != nil {
		t.Fatalf("Read on missing resource failed: %v", err)
	}
	if res.Found {
		t.Error("expected Found=false for a missing resource")
	}
}

func TestCreateReadRoundTrip(t *testing.T) {
	l := NewLocal()
	rec := serviceRecord()

	created, err := l.Create(context.Background(), rec)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ExternalID == "" {
		t.Error("Create returned empty external id")
	}

	read, err := l.Read(context.Background(), rec)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !read.Found {
		t.Fatal("resource not found after create")
	}
	if read.ExternalID != created.ExternalID {
		t.Errorf("external id changed: %s vs %s", read.ExternalID, created.ExternalID)
	}
	if read.Attributes["replicas"] != "2" {
		t.Errorf("got replicas %q, want 2", read.Attributes["replicas"])
	}
}

// Deleting twice succeeds both times.
func TestDeleteIdempotent(t *testing.T) {
	l := NewLocal()
	rec := serviceRecord()
	if _, err := l.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := l.Delete(context.Background(), rec); err != nil {
		t.Fatalf("first Delete failed: %v", err)
	}
	if err := l.Delete(context.Background(), rec); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}

	res, err := l.Read(context.Background(), rec)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if res.Found {
		t.Error("resource still present after delete")
	}
}

func TestFaultInjectionCountsDown(t *testing.T) {
	l := NewLocal()
	rec := serviceRecord()
	transient := &ProviderError{Code: "throttled", Message: "slow down", Retryable: true}
	l.FailWith(model.KindComputeService, "create", transient, 2)

	for i := 0; i < 2; i++ {
		if _, err := l.Create(context.Background(), rec); err == nil {
			t.Fatalf("call %d: expected injected failure", i+1)
		}
	}
	if _, err := l.Create(context.Background(), rec); err != nil {
		t.Fatalf("third call should succeed, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	if !Retryable(&ProviderError{Code: "throttled", Retryable: true}) {
		t.Error("retryable provider error misclassified")
	}
	if Retryable(&ProviderError{Code: "quota-exceeded", Retryable: false}) {
		t.Error("permanent provider error misclassified")
	}
	if !Retryable(context.DeadlineExceeded) {
		t.Error("deadline exceeded should be retryable")
	}
}

func TestUpdateMissingIsPermanent(t *testing.T) {
	l := NewLocal()
	_, err := l.Update(context.Background(), serviceRecord())
	if err == nil {
		t.Fatal("expected update of a missing resource to fail")
	}
	if Retryable(err) {
		t.Error("update of missing resource should not be retryable")
	}
}
