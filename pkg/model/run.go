package model

import "time"

type RunOutcome string

const (
	OutcomeInProgress      RunOutcome = "in-progress"
	OutcomeConverged       RunOutcome = "converged"
	OutcomePartiallyFailed RunOutcome = "partially-failed"
	OutcomeAborted         RunOutcome = "aborted"
)

// ReconciliationRun is one attempt to converge a deployment to a desired
// state. At most one run per deployment name may be in progress at a time.
type ReconciliationRun struct {
	RunID          string            `json:"runId"`
	DeploymentName string            `json:"deploymentName"`
	Target         DesiredState      `json:"target"`
	Records        []*ResourceRecord `json:"records"`
	Outcome        RunOutcome        `json:"outcome"`

	// AmbiguousProgress is set when a state-store write failed mid-run: the
	// external operation may or may not have completed, so every non-terminal
	// record must be re-verified with a read before the run advances again.
	AmbiguousProgress bool `json:"ambiguousProgress,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (r *ReconciliationRun) Record(id string) *ResourceRecord {
	for _, rec := range r.Records {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *ReconciliationRun) Terminal() bool {
	return r.Outcome != OutcomeInProgress
}

func (r *ReconciliationRun) Clone() *ReconciliationRun {
	out := *r
	out.Records = make([]*ResourceRecord, len(r.Records))
	for i, rec := range r.Records {
		out.Records[i] = rec.Clone()
	}
	out.Target.NetworkSpec.SubnetCIDRs = append([]string(nil), r.Target.NetworkSpec.SubnetCIDRs...)
	out.Target.NetworkSpec.Zones = append([]string(nil), r.Target.NetworkSpec.Zones...)
	out.Target.IngressRules = append([]IngressRule(nil), r.Target.IngressRules...)
	return &out
}
