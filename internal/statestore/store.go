// Package statestore persists reconciliation runs and drift reports in a
// bbolt file. Runs are immutable once terminal and superseded, never
// overwritten, by later runs for the same deployment, so history stays
// queryable.
package statestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/balaji-balu/converge/pkg/model"
)

var ErrNotFound = errors.New("statestore: not found")

var (
	bucketRuns        = []byte("runs")        // runId -> run snapshot
	bucketDeployments = []byte("deployments") // name -> ordered runId list
	bucketActive      = []byte("active")      // runId -> name, in-progress runs
	bucketDrift       = []byte("drift")       // name -> latest drift report
)

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketRuns, bucketDeployments, bucketActive, bucketDrift} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init state store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run snapshot atomically, last-write-wins per runId, and
// maintains the per-deployment history plus the active-run index.
func (s *Store) SaveRun(run *model.ReconciliationRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", run.RunID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketRuns).Put([]byte(run.RunID), data); err != nil {
			return err
		}

		deps := tx.Bucket(bucketDeployments)
		var history []string
		if raw := deps.Get([]byte(run.DeploymentName)); raw != nil {
			if err := json.Unmarshal(raw, &history); err != nil {
				return err
			}
		}
		known := false
		for _, id := range history {
			if id == run.RunID {
				known = true
				break
			}
		}
		if !known {
			history = append(history, run.RunID)
			raw, err := json.Marshal(history)
			if err != nil {
				return err
			}
			if err := deps.Put([]byte(run.DeploymentName), raw); err != nil {
				return err
			}
		}

		active := tx.Bucket(bucketActive)
		if run.Outcome == model.OutcomeInProgress {
			return active.Put([]byte(run.RunID), []byte(run.DeploymentName))
		}
		return active.Delete([]byte(run.RunID))
	})
}

func (s *Store) GetRun(runID string) (*model.ReconciliationRun, error) {
	var run *model.ReconciliationRun
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRuns).Get([]byte(runID))
		if raw == nil {
			return ErrNotFound
		}
		run = &model.ReconciliationRun{}
		return json.Unmarshal(raw, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// LoadLatest returns the most recent run for a deployment, in progress or
// terminal.
func (s *Store) LoadLatest(name string) (*model.ReconciliationRun, error) {
	history, err := s.historyIDs(name)
	if err != nil {
		return nil, err
	}
	return s.GetRun(history[len(history)-1])
}

// History returns every run recorded for a deployment, oldest first.
func (s *Store) History(name string) ([]*model.ReconciliationRun, error) {
	ids, err := s.historyIDs(name)
	if err != nil {
		return nil, err
	}
	runs := make([]*model.ReconciliationRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (s *Store) historyIDs(name string) ([]string, error) {
	var history []string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDeployments).Get([]byte(name))
		if raw == nil {
			return ErrNotFound
		}
		return json.Unmarshal(raw, &history)
	})
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}
	return history, nil
}

// ListActiveRuns returns every run left in progress, used at startup to
// resume after a crash.
func (s *Store) ListActiveRuns() ([]*model.ReconciliationRun, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketActive).ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	runs := make([]*model.ReconciliationRun, 0, len(ids))
	for _, id := range ids {
		run, err := s.GetRun(id)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// ListDeployments returns every deployment name with at least one run.
func (s *Store) ListDeployments() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeployments).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func (s *Store) SaveDriftReport(rep *model.DriftReport) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encode drift report for %s: %w", rep.DeploymentName, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDrift).Put([]byte(rep.DeploymentName), data)
	})
}

// LatestDriftReport returns the last report for a deployment, or ErrNotFound
// when the detector has not checked it yet.
func (s *Store) LatestDriftReport(name string) (*model.DriftReport, error) {
	var rep *model.DriftReport
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDrift).Get([]byte(name))
		if raw == nil {
			return ErrNotFound
		}
		rep = &model.DriftReport{}
		return json.Unmarshal(raw, rep)
	})
	if err != nil {
		return nil, err
	}
	return rep, nil
}
