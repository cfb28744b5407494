package model

import "time"

// FieldChange is one divergent field on one resource.
type FieldChange struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// DriftReport maps drifted resources to their changed fields. An empty
// Resources map means the deployment matched its last-applied desired state.
type DriftReport struct {
	DeploymentName string                   `json:"deploymentName"`
	RunID          string                   `json:"runId"`
	CheckedAt      time.Time                `json:"checkedAt"`
	Resources      map[string][]FieldChange `json:"resources,omitempty"`
}

func (d *DriftReport) Drifted() bool {
	return len(d.Resources) > 0
}
