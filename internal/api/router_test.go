package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/drift"
	"github.com/balaji-balu/converge/internal/provider"
	"github.com/balaji-balu/converge/internal/reconciler"
	"github.com/balaji-balu/converge/internal/statestore"
	"github.com/balaji-balu/converge/pkg/model"
)

const demoDoc = `
deploymentName: demo
imageReference: registry.example.com/demo:v1
replicaCount: 1
cpuUnits: 256
memoryMiB: 512
containerPort: 80
networkSpec:
  cidr: 10.0.0.0/16
  subnetCidrs:
    - 10.0.1.0/24
    - 10.0.2.0/24
`

func newTestRouter(t *testing.T, client provider.Client) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := statestore.Open(filepath.Join(t.TempDir(), "converge.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := zap.NewNop()
	mgr := reconciler.New(store, client, logger,
		reconciler.WithBackoff(reconciler.Backoff{Base: time.Millisecond, Factor: 2, Cap: 5 * time.Millisecond, MaxAttempts: 3}),
	)
	det := drift.New(store, client, nil, logger, time.Hour)
	return NewRouter(mgr, store, det, logger)
}

// blockingProvider parks creates of one kind until released, to keep a run in
// progress for as long as a test needs.
type blockingProvider struct {
	provider.Client
	kind model.ResourceKind
	gate chan struct{}
}

func (b *blockingProvider) Create(ctx context.Context, rec *model.ResourceRecord) (provider.Result, error) {
	if rec.Kind == b.kind {
		<-b.gate
	}
	return b.Client.Create(ctx, rec)
}

func doRequest(t *testing.T, r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSubmitAndWaitConverges(t *testing.T) {
	r := newTestRouter(t, provider.NewLocal())

	w := doRequest(t, r, http.MethodPost, "/api/v1/deployments?wait=true", demoDoc)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var run model.ReconciliationRun
	if err := json.Unmarshal(w.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if run.Outcome != model.OutcomeConverged {
		t.Errorf("outcome = %s, want converged", run.Outcome)
	}
	if len(run.Records) != 6 {
		t.Errorf("expected 6 records, got %d", len(run.Records))
	}

	// The deployment is now queryable by name and by run id.
	w = doRequest(t, r, http.MethodGet, "/api/v1/deployments/demo", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET deployment status = %d", w.Code)
	}
	w = doRequest(t, r, http.MethodGet, "/api/v1/runs/"+run.RunID, "")
	if w.Code != http.StatusOK {
		t.Errorf("GET run status = %d", w.Code)
	}
	w = doRequest(t, r, http.MethodGet, "/api/v1/deployments/demo/history", "")
	if w.Code != http.StatusOK {
		t.Errorf("GET history status = %d", w.Code)
	}
}

func TestSubmitAsyncReturnsRunID(t *testing.T) {
	r := newTestRouter(t, provider.NewLocal())

	w := doRequest(t, r, http.MethodPost, "/api/v1/deployments", demoDoc)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		RunID string `json:"run_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.RunID == "" {
		t.Error("empty run_id in async response")
	}
}

func TestSubmitInvalidDocument(t *testing.T) {
	r := newTestRouter(t, provider.NewLocal())

	bad := strings.Replace(demoDoc, "replicaCount: 1", "replicaCount: -1", 1)
	w := doRequest(t, r, http.MethodPost, "/api/v1/deployments?wait=true", bad)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422; body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Field string `json:"field"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Field != "replicaCount" {
		t.Errorf("field = %q, want replicaCount", resp.Field)
	}
}

func TestSubmitMalformedBody(t *testing.T) {
	r := newTestRouter(t, provider.NewLocal())
	w := doRequest(t, r, http.MethodPost, "/api/v1/deployments", "{not yaml: [")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestSubmitConflictWhileRunInProgress(t *testing.T) {
	blocked := &blockingProvider{Client: provider.NewLocal(), kind: model.KindRegistry, gate: make(chan struct{})}
	defer close(blocked.gate)
	r := newTestRouter(t, blocked)

	w := doRequest(t, r, http.MethodPost, "/api/v1/deployments", demoDoc)
	if w.Code != http.StatusAccepted {
		t.Fatalf("first submit status = %d", w.Code)
	}

	w = doRequest(t, r, http.MethodPost, "/api/v1/deployments", demoDoc)
	if w.Code != http.StatusConflict {
		t.Errorf("second submit status = %d, want 409; body = %s", w.Code, w.Body.String())
	}
}

func TestUnknownDeploymentAndRun(t *testing.T) {
	r := newTestRouter(t, provider.NewLocal())
	if w := doRequest(t, r, http.MethodGet, "/api/v1/deployments/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET unknown deployment status = %d, want 404", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/v1/runs/ghost", ""); w.Code != http.StatusNotFound {
		t.Errorf("GET unknown run status = %d, want 404", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/v1/runs/ghost/cancel", ""); w.Code != http.StatusConflict {
		t.Errorf("cancel inactive run status = %d, want 409", w.Code)
	}
}

func TestDriftEndpoints(t *testing.T) {
	local := provider.NewLocal()
	r := newTestRouter(t, local)

	// Checking drift before any converged run is a conflict.
	if w := doRequest(t, r, http.MethodPost, "/api/v1/deployments/demo/drift/check", ""); w.Code != http.StatusConflict {
		t.Fatalf("drift check without run status = %d, want 409", w.Code)
	}

	if w := doRequest(t, r, http.MethodPost, "/api/v1/deployments?wait=true", demoDoc); w.Code != http.StatusOK {
		t.Fatalf("submit status = %d", w.Code)
	}

	local.SetAttribute(model.RecordID(model.KindComputeService, "demo"), "replicas", "9")
	w := doRequest(t, r, http.MethodPost, "/api/v1/deployments/demo/drift/check", "")
	if w.Code != http.StatusOK {
		t.Fatalf("drift check status = %d, body = %s", w.Code, w.Body.String())
	}
	var rep model.DriftReport
	if err := json.Unmarshal(w.Body.Bytes(), &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if !rep.Drifted() {
		t.Error("drift not reported")
	}

	if w := doRequest(t, r, http.MethodGet, "/api/v1/deployments/demo/drift", ""); w.Code != http.StatusOK {
		t.Errorf("GET drift status = %d", w.Code)
	}
}

func TestHealthz(t *testing.T) {
	r := newTestRouter(t, provider.NewLocal())
	if w := doRequest(t, r, http.MethodGet, "/healthz", ""); w.Code != http.StatusOK {
		t.Errorf("healthz status = %d", w.Code)
	}
}
