// Package reconciler drives deployments toward their desired state: it plans
// a run, walks the resource records in dependency order through the provider,
// persists every transition to the state store, and enforces the
// one-in-progress-run-per-deployment invariant.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/metrics"
	"github.com/balaji-balu/converge/internal/natsbroker"
	"github.com/balaji-balu/converge/internal/planner"
	"github.com/balaji-balu/converge/internal/provider"
	"github.com/balaji-balu/converge/internal/statestore"
	"github.com/balaji-balu/converge/pkg/model"
)

var (
	// ErrRunInProgress rejects a submission while another run for the same
	// deployment has not finished. Resubmit after it terminates.
	ErrRunInProgress = errors.New("reconciler: a run is already in progress for this deployment")

	ErrNotActive = errors.New("reconciler: run is not active")
)

type Manager struct {
	store     *statestore.Store
	client    provider.Client
	broker    *natsbroker.Broker
	resolver  *provider.ImageResolver
	logger    *zap.Logger
	backoff   Backoff
	opTimeout time.Duration

	mu     sync.Mutex
	active map[string]*runHandle // keyed by deployment name
	byID   map[string]*runHandle
}

type runHandle struct {
	mu     sync.Mutex
	run    *model.ReconciliationRun
	cancel context.CancelFunc
	done   chan struct{}
	verify bool
}

func (h *runHandle) snapshot() *model.ReconciliationRun {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.run.Clone()
}

type Option func(*Manager)

func WithBackoff(b Backoff) Option {
	return func(m *Manager) { m.backoff = b }
}

func WithOpTimeout(d time.Duration) Option {
	return func(m *Manager) { m.opTimeout = d }
}

func WithBroker(b *natsbroker.Broker) Option {
	return func(m *Manager) { m.broker = b }
}

// WithImageResolver enables registry verification of the image reference at
// submission time.
func WithImageResolver(r *provider.ImageResolver) Option {
	return func(m *Manager) { m.resolver = r }
}

func New(store *statestore.Store, client provider.Client, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		client:    client,
		logger:    logger,
		backoff:   DefaultBackoff,
		opTimeout: 30 * time.Second,
		active:    make(map[string]*runHandle),
		byID:      make(map[string]*runHandle),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit validates and plans a desired state, then starts an asynchronous
// reconciliation run. The returned snapshot carries the run id; use Wait for
// synchronous mode. Records from the previous converged run are carried over:
// unchanged resources start Ready, changed ones take the update path, and
// resources absent from the new desired state are destroyed.
func (m *Manager) Submit(ctx context.Context, ds *model.DesiredState) (*model.ReconciliationRun, error) {
	records, err := planner.BuildPlan(ds)
	if err != nil {
		return nil, err
	}

	if m.resolver != nil {
		if _, err := m.resolver.Resolve(ctx, ds.ImageReference); err != nil {
			return nil, fmt.Errorf("image verification failed: %w", err)
		}
	}

	if err := m.reserve(ds.DeploymentName); err != nil {
		return nil, err
	}

	run, err := m.newRun(ds, records)
	if err != nil {
		m.unreserve(ds.DeploymentName)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(run, false), nil
}

// reserve claims the deployment's slot in the active map before any store
// I/O, so the lock is never held across bolt transactions.
func (m *Manager) reserve(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.active[name]; busy {
		return ErrRunInProgress
	}
	m.active[name] = nil
	return nil
}

func (m *Manager) unreserve(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, name)
}

// newRun threads the previous converged run into the plan and persists the
// new run. A latest run still recorded as in progress was stopped by a crash
// or an ambiguous store failure; it must be resumed (retry or restart), never
// superseded, or two runs for the same name would sit in the active index.
func (m *Manager) newRun(ds *model.DesiredState, records []*model.ResourceRecord) (*model.ReconciliationRun, error) {
	prev, err := m.store.LoadLatest(ds.DeploymentName)
	if err != nil && !errors.Is(err, statestore.ErrNotFound) {
		return nil, err
	}
	if prev != nil {
		if prev.Outcome == model.OutcomeInProgress {
			return nil, ErrRunInProgress
		}
		if prev.Outcome == model.OutcomeConverged {
			records = carryOver(records, prev)
		}
	}

	now := time.Now()
	run := &model.ReconciliationRun{
		RunID:          uuid.NewString(),
		DeploymentName: ds.DeploymentName,
		Target:         *ds,
		Records:        records,
		Outcome:        model.OutcomeInProgress,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("persist new run: %w", err)
	}
	return run, nil
}

// carryOver threads external ids and observed attributes from the previous
// converged run into the new plan, and appends removal records for resources
// the new desired state no longer wants.
func carryOver(records []*model.ResourceRecord, prev *model.ReconciliationRun) []*model.ResourceRecord {
	planned := make(map[string]*model.ResourceRecord, len(records))
	for _, rec := range records {
		planned[rec.ID] = rec
	}
	for _, old := range prev.Records {
		if old.Remove || old.Status != model.StatusReady || old.ExternalID == "" {
			continue
		}
		if rec, ok := planned[old.ID]; ok {
			rec.ExternalID = old.ExternalID
			rec.Status = model.StatusReady
			if old.Observed != nil {
				rec.Observed = make(model.Attributes, len(old.Observed))
				for k, v := range old.Observed {
					rec.Observed[k] = v
				}
			}
		} else {
			gone := old.Clone()
			gone.Remove = true
			gone.LastError = nil
			records = append(records, gone)
		}
	}
	return records
}

// startLocked registers the handle and launches the run loop. Caller holds
// m.mu.
func (m *Manager) startLocked(run *model.ReconciliationRun, verify bool) *model.ReconciliationRun {
	runCtx, cancel := context.WithCancel(context.Background())
	h := &runHandle{
		run:    run,
		cancel: cancel,
		done:   make(chan struct{}),
		verify: verify,
	}
	m.active[run.DeploymentName] = h
	m.byID[run.RunID] = h
	go m.runLoop(runCtx, h)
	return h.snapshot()
}

func (m *Manager) release(h *runHandle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, h.run.DeploymentName)
	delete(m.byID, h.run.RunID)
}

// Wait blocks until the run terminates or ctx is done, returning the final
// snapshot.
func (m *Manager) Wait(ctx context.Context, runID string) (*model.ReconciliationRun, error) {
	m.mu.Lock()
	h, ok := m.byID[runID]
	m.mu.Unlock()
	if !ok {
		return m.store.GetRun(runID)
	}
	select {
	case <-h.done:
		return h.snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation of an in-progress run. In-flight provider
// calls complete; no new transitions begin.
func (m *Manager) Cancel(runID string) error {
	m.mu.Lock()
	h, ok := m.byID[runID]
	m.mu.Unlock()
	if !ok {
		return ErrNotActive
	}
	h.cancel()
	return nil
}

// Get returns the current snapshot for a run id, live or persisted.
func (m *Manager) Get(runID string) (*model.ReconciliationRun, error) {
	m.mu.Lock()
	h, ok := m.byID[runID]
	m.mu.Unlock()
	if ok {
		return h.snapshot(), nil
	}
	return m.store.GetRun(runID)
}

// Status returns the latest run for a deployment name.
func (m *Manager) Status(name string) (*model.ReconciliationRun, error) {
	m.mu.Lock()
	h, ok := m.active[name]
	m.mu.Unlock()
	// A nil entry is a reservation whose run is still being persisted.
	if ok && h != nil {
		return h.snapshot(), nil
	}
	return m.store.LoadLatest(name)
}

// Retry resumes the latest run for a deployment after a partial failure or an
// ambiguous-progress stop. Failed records are reset to pending and every
// non-terminal record is re-verified with a read before any create.
func (m *Manager) Retry(name string) (*model.ReconciliationRun, error) {
	if err := m.reserve(name); err != nil {
		return nil, err
	}

	run, err := m.retriedRun(name)
	if err != nil {
		m.unreserve(name)
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked(run, true), nil
}

func (m *Manager) retriedRun(name string) (*model.ReconciliationRun, error) {
	run, err := m.store.LoadLatest(name)
	if err != nil {
		return nil, err
	}
	if run.Outcome == model.OutcomeConverged {
		return nil, fmt.Errorf("reconciler: run %s already converged, nothing to retry", run.RunID)
	}

	for _, rec := range run.Records {
		if rec.Status == model.StatusFailed {
			if rec.Remove {
				rec.Status = model.StatusReady
			} else {
				rec.Status = model.StatusPending
			}
			rec.Attempts = 0
			rec.LastError = nil
		}
	}
	run.Outcome = model.OutcomeInProgress
	run.UpdatedAt = time.Now()
	if err := m.store.SaveRun(run); err != nil {
		return nil, fmt.Errorf("persist retried run: %w", err)
	}
	return run, nil
}

// ResumeActive restarts every run left in progress by a prior crash. Called
// once at startup.
func (m *Manager) ResumeActive() error {
	runs, err := m.store.ListActiveRuns()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range runs {
		if _, busy := m.active[run.DeploymentName]; busy {
			continue
		}
		m.logger.Info("resuming interrupted run",
			zap.String("run_id", run.RunID),
			zap.String("deployment", run.DeploymentName),
		)
		m.startLocked(run, true)
	}
	return nil
}

type runEvent struct {
	RunID          string           `json:"runId"`
	DeploymentName string           `json:"deploymentName"`
	Outcome        model.RunOutcome `json:"outcome"`
}

func (m *Manager) publish(subject string, run *model.ReconciliationRun) {
	if m.broker == nil {
		return
	}
	ev := runEvent{RunID: run.RunID, DeploymentName: run.DeploymentName, Outcome: run.Outcome}
	if err := m.broker.Publish(subject, ev); err != nil {
		m.logger.Warn("failed to publish run event", zap.String("subject", subject), zap.Error(err))
	}
}

func observeTransition(kind model.ResourceKind, status model.ResourceStatus) {
	if metrics.ResourceTransitions != nil {
		metrics.ResourceTransitions.WithLabelValues(string(kind), string(status)).Inc()
	}
}
