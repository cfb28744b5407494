// Package planner validates a desired state and expands it into the fixed
// resource shape: registry, vpc, subnets, security policy, optional cluster,
// compute service, ordered so every record follows its dependencies.
package planner

import (
	"fmt"
	"net"

	"github.com/balaji-balu/converge/pkg/model"
)

// ValidationError rejects a desired-state document at submission time. It is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid desired state: %s: %s", e.Field, e.Reason)
}

// Validate checks a desired state without producing any records.
func Validate(ds *model.DesiredState) error {
	if ds.DeploymentName == "" {
		return &ValidationError{Field: "deploymentName", Reason: "must not be empty"}
	}
	if ds.ImageReference == "" {
		return &ValidationError{Field: "imageReference", Reason: "must not be empty"}
	}
	if ds.ReplicaCount < 0 {
		return &ValidationError{Field: "replicaCount", Reason: "must not be negative"}
	}
	if ds.ContainerPort < 1 || ds.ContainerPort > 65535 {
		return &ValidationError{Field: "containerPort", Reason: "must be in range 1-65535"}
	}
	if ds.CPUUnits <= 0 {
		return &ValidationError{Field: "cpuUnits", Reason: "must be positive"}
	}
	if ds.MemoryMiB <= 0 {
		return &ValidationError{Field: "memoryMiB", Reason: "must be positive"}
	}
	if err := validateNetwork(&ds.NetworkSpec); err != nil {
		return err
	}
	for i, rule := range ds.IngressRules {
		field := fmt.Sprintf("ingressRules[%d]", i)
		if rule.Port < 1 || rule.Port > 65535 {
			return &ValidationError{Field: field + ".port", Reason: "must be in range 1-65535"}
		}
		if rule.Protocol != "tcp" && rule.Protocol != "udp" {
			return &ValidationError{Field: field + ".protocol", Reason: "must be tcp or udp"}
		}
		if _, _, err := net.ParseCIDR(rule.SourceCIDR); err != nil {
			return &ValidationError{Field: field + ".sourceCidr", Reason: "malformed CIDR"}
		}
	}
	return nil
}

func validateNetwork(spec *model.NetworkSpec) error {
	_, vpcNet, err := net.ParseCIDR(spec.CIDR)
	if err != nil {
		return &ValidationError{Field: "networkSpec.cidr", Reason: "malformed CIDR"}
	}
	if len(spec.SubnetCIDRs) == 0 {
		return &ValidationError{Field: "networkSpec.subnetCidrs", Reason: "at least one subnet is required"}
	}
	subnets := make([]*net.IPNet, 0, len(spec.SubnetCIDRs))
	for i, cidr := range spec.SubnetCIDRs {
		field := fmt.Sprintf("networkSpec.subnetCidrs[%d]", i)
		_, subNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return &ValidationError{Field: field, Reason: "malformed CIDR"}
		}
		if !cidrContains(vpcNet, subNet) {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("not contained in %s", spec.CIDR)}
		}
		for j, prev := range subnets {
			if cidrsOverlap(prev, subNet) {
				return &ValidationError{
					Field:  field,
					Reason: fmt.Sprintf("overlaps networkSpec.subnetCidrs[%d]", j),
				}
			}
		}
		subnets = append(subnets, subNet)
	}
	return nil
}

func cidrContains(outer, inner *net.IPNet) bool {
	outerOnes, _ := outer.Mask.Size()
	innerOnes, _ := inner.Mask.Size()
	return outer.Contains(inner.IP) && outerOnes <= innerOnes
}

func cidrsOverlap(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

// BuildPlan expands a desired state into an ordered record sequence. The
// dependency shape is hard-coded: subnets follow the vpc, the security policy
// follows the subnets, the compute service follows everything network-side
// (and the dedicated cluster, when one is requested). Registry and cluster
// have no dependencies. Deterministic for a given input.
func BuildPlan(ds *model.DesiredState) ([]*model.ResourceRecord, error) {
	if err := Validate(ds); err != nil {
		return nil, err
	}

	name := ds.DeploymentName
	var records []*model.ResourceRecord
	add := func(rec *model.ResourceRecord) *model.ResourceRecord {
		rec.Status = model.StatusPending
		records = append(records, rec)
		return rec
	}

	add(&model.ResourceRecord{
		ID:   model.RecordID(model.KindRegistry, name),
		Kind: model.KindRegistry,
		Name: name,
	})

	vpc := add(&model.ResourceRecord{
		ID:   model.RecordID(model.KindVPC, name),
		Kind: model.KindVPC,
		Name: name,
		Spec: model.ResourceSpec{CIDR: ds.NetworkSpec.CIDR},
	})

	subnetIDs := make([]string, 0, len(ds.NetworkSpec.SubnetCIDRs))
	for i, cidr := range ds.NetworkSpec.SubnetCIDRs {
		zone := ""
		if i < len(ds.NetworkSpec.Zones) {
			zone = ds.NetworkSpec.Zones[i]
		}
		subnetName := fmt.Sprintf("%s-%d", name, i)
		sub := add(&model.ResourceRecord{
			ID:        model.RecordID(model.KindSubnet, subnetName),
			Kind:      model.KindSubnet,
			Name:      subnetName,
			DependsOn: []string{vpc.ID},
			Spec:      model.ResourceSpec{CIDR: cidr, Zone: zone},
		})
		subnetIDs = append(subnetIDs, sub.ID)
	}

	policy := add(&model.ResourceRecord{
		ID:        model.RecordID(model.KindSecurityPolicy, name),
		Kind:      model.KindSecurityPolicy,
		Name:      name,
		DependsOn: append([]string(nil), subnetIDs...),
		Spec:      model.ResourceSpec{Ingress: ds.IngressRules},
	})

	serviceDeps := append(append([]string(nil), subnetIDs...), policy.ID)
	clusterName := ds.ClusterName
	if clusterName != "" {
		cluster := add(&model.ResourceRecord{
			ID:   model.RecordID(model.KindCluster, clusterName),
			Kind: model.KindCluster,
			Name: clusterName,
		})
		serviceDeps = append(serviceDeps, cluster.ID)
	}

	add(&model.ResourceRecord{
		ID:        model.RecordID(model.KindComputeService, name),
		Kind:      model.KindComputeService,
		Name:      name,
		DependsOn: serviceDeps,
		Spec: model.ResourceSpec{
			Image:     ds.ImageReference,
			Replicas:  ds.ReplicaCount,
			CPUUnits:  ds.CPUUnits,
			MemoryMiB: ds.MemoryMiB,
			Port:      ds.ContainerPort,
			Cluster:   clusterName,
		},
	})

	return records, nil
}
