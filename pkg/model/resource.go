package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type ResourceKind string

const (
	KindRegistry       ResourceKind = "registry"
	KindVPC            ResourceKind = "vpc"
	KindSubnet         ResourceKind = "subnet"
	KindSecurityPolicy ResourceKind = "security-policy"
	KindCluster        ResourceKind = "cluster"
	KindComputeService ResourceKind = "compute-service"
)

type ResourceStatus string

const (
	StatusPending    ResourceStatus = "pending"
	StatusCreating   ResourceStatus = "creating"
	StatusReady      ResourceStatus = "ready"
	StatusUpdating   ResourceStatus = "updating"
	StatusFailed     ResourceStatus = "failed"
	StatusDestroying ResourceStatus = "destroying"
	StatusDestroyed  ResourceStatus = "destroyed"
)

// Terminal reports whether the status needs no further work in a run.
func (s ResourceStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusDestroyed
}

type StatusError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Attributes are the observed (or desired, canonicalized) properties of one
// external resource, keyed by field name.
type Attributes map[string]string

// ResourceSpec carries the declarative parameters for one resource. Only the
// fields relevant to the record's kind are set.
type ResourceSpec struct {
	CIDR      string        `json:"cidr,omitempty"`
	Zone      string        `json:"zone,omitempty"`
	Image     string        `json:"image,omitempty"`
	Replicas  int           `json:"replicas,omitempty"`
	CPUUnits  int           `json:"cpuUnits,omitempty"`
	MemoryMiB int           `json:"memoryMiB,omitempty"`
	Port      int           `json:"port,omitempty"`
	Cluster   string        `json:"cluster,omitempty"`
	Ingress   []IngressRule `json:"ingress,omitempty"`
}

// ResourceRecord is one external resource instance inside a reconciliation
// run. Owned by exactly one run; mutated only by the reconciler.
type ResourceRecord struct {
	ID         string         `json:"id"`
	Kind       ResourceKind   `json:"kind"`
	Name       string         `json:"name"`
	DependsOn  []string       `json:"dependsOn,omitempty"`
	ExternalID string         `json:"externalId,omitempty"`
	Status     ResourceStatus `json:"status"`
	Attempts   int            `json:"attempts,omitempty"`
	LastError  *StatusError   `json:"lastError,omitempty"`
	Spec       ResourceSpec   `json:"spec"`
	Observed   Attributes     `json:"observed,omitempty"`

	// Remove marks a record carried from a previous run that is absent from
	// the new desired state and must be destroyed.
	Remove bool `json:"remove,omitempty"`
}

// RecordID builds the canonical record identifier for a kind/name pair.
func RecordID(kind ResourceKind, name string) string {
	return fmt.Sprintf("%s/%s", kind, name)
}

// DesiredAttributes canonicalizes the record's spec into the key space the
// provider reports for its kind. Every managed key is emitted, zero values
// included, so a diff over the desired keys also registers fields the new
// spec cleared (scale to zero, all ingress rules removed).
func (r *ResourceRecord) DesiredAttributes() Attributes {
	attrs := Attributes{}
	switch r.Kind {
	case KindVPC:
		attrs["cidr"] = r.Spec.CIDR
	case KindSubnet:
		attrs["cidr"] = r.Spec.CIDR
		attrs["zone"] = r.Spec.Zone
	case KindSecurityPolicy:
		attrs["ingress"] = canonicalIngress(r.Spec.Ingress)
	case KindComputeService:
		attrs["image"] = r.Spec.Image
		attrs["replicas"] = strconv.Itoa(r.Spec.Replicas)
		attrs["cpuUnits"] = strconv.Itoa(r.Spec.CPUUnits)
		attrs["memoryMiB"] = strconv.Itoa(r.Spec.MemoryMiB)
		attrs["port"] = strconv.Itoa(r.Spec.Port)
		attrs["cluster"] = r.Spec.Cluster
	}
	return attrs
}

func canonicalIngress(rules []IngressRule) string {
	parts := make([]string, 0, len(rules))
	for _, r := range rules {
		parts = append(parts, fmt.Sprintf("%d/%s from %s", r.Port, strings.ToLower(r.Protocol), r.SourceCIDR))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

func (r *ResourceRecord) Clone() *ResourceRecord {
	out := *r
	out.DependsOn = append([]string(nil), r.DependsOn...)
	out.Spec.Ingress = append([]IngressRule(nil), r.Spec.Ingress...)
	if r.LastError != nil {
		le := *r.LastError
		out.LastError = &le
	}
	if r.Observed != nil {
		out.Observed = make(Attributes, len(r.Observed))
		for k, v := range r.Observed {
			out.Observed[k] = v
		}
	}
	return &out
}
