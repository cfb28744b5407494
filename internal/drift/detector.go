// Package drift periodically re-observes provisioned resources and reports
// divergence from the last-applied desired state. Detection only: correction
// requires a new explicit submission, so out-of-band operator changes are
// never silently reverted.
package drift

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/balaji-balu/converge/internal/metrics"
	"github.com/balaji-balu/converge/internal/natsbroker"
	"github.com/balaji-balu/converge/internal/provider"
	"github.com/balaji-balu/converge/internal/statestore"
	"github.com/balaji-balu/converge/pkg/model"
)

type Detector struct {
	store    *statestore.Store
	client   provider.Client
	broker   *natsbroker.Broker // may be nil
	logger   *zap.Logger
	interval time.Duration
}

func New(store *statestore.Store, client provider.Client, broker *natsbroker.Broker, logger *zap.Logger, interval time.Duration) *Detector {
	return &Detector{
		store:    store,
		client:   client,
		broker:   broker,
		logger:   logger,
		interval: interval,
	}
}

// Start runs the detection loop until ctx is done.
func (d *Detector) Start(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.CheckAll(ctx)
		case <-ctx.Done():
			d.logger.Info("drift detector stopped")
			return
		}
	}
}

// CheckAll checks every deployment whose latest run converged.
func (d *Detector) CheckAll(ctx context.Context) {
	names, err := d.store.ListDeployments()
	if err != nil {
		d.logger.Error("failed to list deployments for drift check", zap.Error(err))
		return
	}
	for _, name := range names {
		if _, err := d.Check(ctx, name); err != nil {
			d.logger.Error("drift check failed", zap.String("deployment", name), zap.Error(err))
		}
	}
}

// Check re-observes one deployment and persists a report. Returns nil report
// when the deployment's latest run is not converged.
func (d *Detector) Check(ctx context.Context, name string) (*model.DriftReport, error) {
	run, err := d.store.LoadLatest(name)
	if err != nil {
		if errors.Is(err, statestore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if run.Outcome != model.OutcomeConverged {
		return nil, nil
	}

	rep := &model.DriftReport{
		DeploymentName: name,
		RunID:          run.RunID,
		CheckedAt:      time.Now(),
		Resources:      make(map[string][]model.FieldChange),
	}

	for _, rec := range run.Records {
		if rec.Remove || rec.Status != model.StatusReady {
			continue
		}
		res, err := d.client.Read(ctx, rec)
		if err != nil {
			return nil, err
		}
		if !res.Found {
			rep.Resources[rec.ID] = []model.FieldChange{
				{Field: "resource", Expected: "present", Actual: "missing"},
			}
			continue
		}
		if changes := compare(rec.DesiredAttributes(), res.Attributes); len(changes) > 0 {
			rep.Resources[rec.ID] = changes
		}
	}

	if err := d.store.SaveDriftReport(rep); err != nil {
		return nil, err
	}
	if rep.Drifted() {
		d.logger.Warn("drift detected",
			zap.String("deployment", name),
			zap.Int("resources", len(rep.Resources)),
		)
		if metrics.DriftReportsTotal != nil {
			metrics.DriftReportsTotal.WithLabelValues(name).Inc()
		}
		if d.broker != nil {
			if err := d.broker.Publish(natsbroker.SubjectDrift, rep); err != nil {
				d.logger.Warn("failed to publish drift report", zap.Error(err))
			}
		}
	}
	return rep, nil
}

// compare lists desired fields whose observed value diverges.
func compare(desired, observed model.Attributes) []model.FieldChange {
	fields := make([]string, 0, len(desired))
	for k := range desired {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	var changes []model.FieldChange
	for _, k := range fields {
		if observed[k] != desired[k] {
			changes = append(changes, model.FieldChange{
				Field:    k,
				Expected: desired[k],
				Actual:   observed[k],
			})
		}
	}
	return changes
}
