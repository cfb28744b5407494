package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/looplab/fsm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/metrics"
	"github.com/balaji-balu/converge/internal/natsbroker"
	"github.com/balaji-balu/converge/internal/provider"
	"github.com/balaji-balu/converge/pkg/model"
)

const (
	opCreate  = "create"
	opUpdate  = "update"
	opDestroy = "destroy"
)

type opResult struct {
	id       string
	op       string
	res      provider.Result
	err      error
	attempts int
}

// runLoop drives one reconciliation run to a terminal outcome. Only this
// goroutine mutates the run's records; workers operate on copies and report
// back over the results channel. Every transition is persisted before the
// next dependent step begins.
func (m *Manager) runLoop(ctx context.Context, h *runHandle) {
	defer close(h.done)
	defer m.release(h)

	run := h.run
	log := m.logger.With(
		zap.String("run_id", run.RunID),
		zap.String("deployment", run.DeploymentName),
	)
	log.Info("reconciliation run started", zap.Int("records", len(run.Records)))
	m.publish(natsbroker.SubjectRunStarted, run)
	if metrics.RunsActive != nil {
		metrics.RunsActive.WithLabelValues(run.DeploymentName).Inc()
		defer metrics.RunsActive.WithLabelValues(run.DeploymentName).Dec()
	}

	if h.verify {
		if err := m.reverify(ctx, h); err != nil {
			log.Error("re-verification failed, run left for operator retry", zap.Error(err))
			h.mu.Lock()
			h.run.AmbiguousProgress = true
			h.mu.Unlock()
			m.finalize(ctx, h, log)
			return
		}
	}

	machines := make(map[string]*fsm.FSM, len(run.Records))
	for _, rec := range run.Records {
		machines[rec.ID] = newRecordFSM(rec.Status)
	}

	results := make(chan opResult)
	inflight := make(map[string]bool)

	for {
		if ctx.Err() == nil && !run.AmbiguousProgress {
			for _, d := range m.dispatchable(run, inflight) {
				rec := d.rec
				if err := m.step(h, machines[rec.ID], rec, startEvent(d.op)); err != nil {
					log.Error("illegal record transition", zap.String("record", rec.ID), zap.Error(err))
					continue
				}
				if !m.persist(h, log) {
					break
				}
				inflight[rec.ID] = true
				go m.execute(ctx, d.op, rec.Clone(), results)
			}
		}

		if len(inflight) == 0 {
			break
		}

		r := <-results
		delete(inflight, r.id)
		rec := run.Record(r.id)

		h.mu.Lock()
		rec.Attempts = r.attempts
		h.mu.Unlock()

		if r.err != nil {
			h.mu.Lock()
			rec.LastError = &model.StatusError{Code: errorCode(r.err), Message: r.err.Error()}
			h.mu.Unlock()
			if err := m.step(h, machines[r.id], rec, evFail); err != nil {
				log.Error("illegal record transition", zap.String("record", rec.ID), zap.Error(err))
			}
			log.Warn("resource operation failed",
				zap.String("record", rec.ID),
				zap.String("op", r.op),
				zap.Int("attempts", r.attempts),
				zap.Error(r.err),
			)
		} else {
			h.mu.Lock()
			rec.LastError = nil
			switch r.op {
			case opCreate, opUpdate:
				rec.ExternalID = r.res.ExternalID
				rec.Observed = r.res.Attributes
			case opDestroy:
				rec.ExternalID = ""
				rec.Observed = nil
			}
			h.mu.Unlock()
			if err := m.step(h, machines[r.id], rec, doneEvent(r.op)); err != nil {
				log.Error("illegal record transition", zap.String("record", rec.ID), zap.Error(err))
			}
		}
		m.persist(h, log)
	}

	m.finalize(ctx, h, log)
}

func (m *Manager) finalize(ctx context.Context, h *runHandle, log *zap.Logger) {
	h.mu.Lock()
	run := h.run
	switch {
	case allConverged(run):
		run.Outcome = model.OutcomeConverged
	case run.AmbiguousProgress:
		// Outcome stays in-progress; the run resumes via retry or restart
		// after re-verification.
	case ctx.Err() != nil:
		run.Outcome = model.OutcomeAborted
	default:
		run.Outcome = model.OutcomePartiallyFailed
	}
	run.UpdatedAt = time.Now()
	outcome := run.Outcome
	h.mu.Unlock()

	m.persist(h, log)
	log.Info("reconciliation run finished", zap.String("outcome", string(outcome)))
	m.publish(natsbroker.SubjectRunFinished, run)
	if metrics.RunsTotal != nil && outcome != model.OutcomeInProgress {
		metrics.RunsTotal.WithLabelValues(run.DeploymentName, string(outcome)).Inc()
	}
}

func allConverged(run *model.ReconciliationRun) bool {
	for _, rec := range run.Records {
		if rec.Remove {
			if rec.Status != model.StatusDestroyed {
				return false
			}
		} else if rec.Status != model.StatusReady {
			return false
		}
	}
	return true
}

type dispatch struct {
	rec *model.ResourceRecord
	op  string
}

// dispatchable selects every record that may start work now. Simultaneously
// runnable forward records are independent by construction: a runnable record
// has all dependencies Ready, so none of them can depend on another runnable
// one. Removals wait until forward work settles, then run one at a time in
// reverse order so dependents are destroyed before their dependencies.
func (m *Manager) dispatchable(run *model.ReconciliationRun, inflight map[string]bool) []dispatch {
	var out []dispatch
	forwardSettled := true
	for _, rec := range run.Records {
		if rec.Remove {
			continue
		}
		if inflight[rec.ID] || !rec.Status.Terminal() {
			forwardSettled = false
		}
		if inflight[rec.ID] || !depsReady(run, rec) {
			continue
		}
		switch {
		case rec.Status == model.StatusPending:
			out = append(out, dispatch{rec: rec, op: opCreate})
		case rec.Status == model.StatusReady && specChanged(rec):
			out = append(out, dispatch{rec: rec, op: opUpdate})
		}
	}
	if len(out) > 0 || !forwardSettled || len(inflight) > 0 {
		return out
	}
	for i := len(run.Records) - 1; i >= 0; i-- {
		rec := run.Records[i]
		if rec.Remove && rec.Status == model.StatusReady {
			return []dispatch{{rec: rec, op: opDestroy}}
		}
	}
	return nil
}

func depsReady(run *model.ReconciliationRun, rec *model.ResourceRecord) bool {
	for _, dep := range rec.DependsOn {
		d := run.Record(dep)
		if d == nil || d.Status != model.StatusReady {
			return false
		}
	}
	return true
}

func specChanged(rec *model.ResourceRecord) bool {
	for k, v := range rec.DesiredAttributes() {
		if rec.Observed[k] != v {
			return true
		}
	}
	return false
}

func startEvent(op string) string {
	switch op {
	case opUpdate:
		return evChange
	case opDestroy:
		return evDestroy
	default:
		return evProvision
	}
}

func doneEvent(op string) string {
	switch op {
	case opUpdate:
		return evChanged
	case opDestroy:
		return evDestroyed
	default:
		return evProvisioned
	}
}

// step applies one lifecycle event to a record and mirrors the machine state
// back onto it.
func (m *Manager) step(h *runHandle, machine *fsm.FSM, rec *model.ResourceRecord, event string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := machine.Event(context.Background(), event); err != nil {
		return err
	}
	rec.Status = model.ResourceStatus(machine.Current())
	h.run.UpdatedAt = time.Now()
	observeTransition(rec.Kind, rec.Status)
	return nil
}

// persist writes the current snapshot. A store failure flags ambiguous
// progress: the external operation may have happened, so nothing further is
// dispatched until an operator-triggered re-verification.
func (m *Manager) persist(h *runHandle, log *zap.Logger) bool {
	snap := h.snapshot()
	if err := m.store.SaveRun(snap); err != nil {
		log.Error("state store write failed, flagging ambiguous progress", zap.Error(err))
		h.mu.Lock()
		h.run.AmbiguousProgress = true
		h.mu.Unlock()
		return false
	}
	return true
}

// execute performs one provider operation with retry on transient failures.
// The call context is detached from run cancellation: an in-flight call runs
// to completion, bounded only by the per-call deadline. Cancellation is
// observed between attempts.
func (m *Manager) execute(ctx context.Context, op string, rec *model.ResourceRecord, results chan<- opResult) {
	tracer := otel.Tracer("converge/reconciler")
	var res provider.Result
	var err error
	attempt := 0

	for {
		attempt++
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
		opCtx, span := tracer.Start(callCtx, "provider."+op)
		span.SetAttributes(
			attribute.String("resource.kind", string(rec.Kind)),
			attribute.String("resource.name", rec.Name),
			attribute.Int("attempt", attempt),
		)
		switch op {
		case opCreate:
			res, err = m.client.Create(opCtx, rec)
		case opUpdate:
			res, err = m.client.Update(opCtx, rec)
		case opDestroy:
			err = m.client.Delete(opCtx, rec)
		}
		span.End()
		cancel()

		if err == nil || !provider.Retryable(err) || attempt >= m.backoff.MaxAttempts {
			break
		}
		if metrics.RetriesTotal != nil {
			metrics.RetriesTotal.WithLabelValues(string(rec.Kind)).Inc()
		}
		select {
		case <-time.After(m.backoff.Delay(attempt)):
		case <-ctx.Done():
			results <- opResult{id: rec.ID, op: op, err: err, attempts: attempt}
			return
		}
	}

	results <- opResult{id: rec.ID, op: op, res: res, err: err, attempts: attempt}
}

// reverify resolves records left mid-operation by a crash or an ambiguous
// store failure: a read decides whether the external operation completed.
// Runs before anything is dispatched, so no completed step is re-run.
func (m *Manager) reverify(ctx context.Context, h *runHandle) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	run := h.run
	for _, rec := range run.Records {
		switch rec.Status {
		case model.StatusCreating, model.StatusUpdating:
			res, err := m.readWithTimeout(ctx, rec)
			if err != nil {
				return err
			}
			if res.Found {
				rec.ExternalID = res.ExternalID
				rec.Observed = res.Attributes
				rec.Status = model.StatusReady
			} else {
				rec.ExternalID = ""
				rec.Status = model.StatusPending
			}
		case model.StatusDestroying:
			res, err := m.readWithTimeout(ctx, rec)
			if err != nil {
				return err
			}
			if res.Found {
				rec.Status = model.StatusReady
			} else {
				rec.ExternalID = ""
				rec.Status = model.StatusDestroyed
			}
		}
	}
	run.AmbiguousProgress = false
	run.UpdatedAt = time.Now()
	snap := run.Clone()
	if err := m.store.SaveRun(snap); err != nil {
		run.AmbiguousProgress = true
		return err
	}
	return nil
}

func (m *Manager) readWithTimeout(ctx context.Context, rec *model.ResourceRecord) (provider.Result, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opTimeout)
	defer cancel()
	return m.client.Read(callCtx, rec)
}

func errorCode(err error) string {
	var pe *provider.ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "provider-error"
}
