package model

import (
	"os"

	"github.com/goccy/go-yaml"
)

// DesiredState is the declarative target for one deployment. It is immutable
// once submitted; a new submission creates a new reconciliation run.
type DesiredState struct {
	DeploymentName string        `json:"deploymentName" yaml:"deploymentName"`
	ImageReference string        `json:"imageReference" yaml:"imageReference"`
	ReplicaCount   int           `json:"replicaCount" yaml:"replicaCount"`
	CPUUnits       int           `json:"cpuUnits" yaml:"cpuUnits"`
	MemoryMiB      int           `json:"memoryMiB" yaml:"memoryMiB"`
	ContainerPort  int           `json:"containerPort" yaml:"containerPort"`
	NetworkSpec    NetworkSpec   `json:"networkSpec" yaml:"networkSpec"`
	IngressRules   []IngressRule `json:"ingressRules,omitempty" yaml:"ingressRules,omitempty"`

	// ClusterName, when set, asks converge to provision a dedicated compute
	// cluster with that name and place the service on it. When empty the
	// service lands on the provider's shared cluster.
	ClusterName string `json:"clusterName,omitempty" yaml:"clusterName,omitempty"`
}

type NetworkSpec struct {
	CIDR        string   `json:"cidr" yaml:"cidr"`
	SubnetCIDRs []string `json:"subnetCidrs" yaml:"subnetCidrs"`
	Zones       []string `json:"zones,omitempty" yaml:"zones,omitempty"`
}

type IngressRule struct {
	Port       int    `json:"port" yaml:"port"`
	Protocol   string `json:"protocol" yaml:"protocol"`
	SourceCIDR string `json:"sourceCidr" yaml:"sourceCidr"`
}

// ParseDesiredState decodes a desired-state document. goccy/go-yaml accepts
// JSON bodies as well, so the API and the CLI share this path.
func ParseDesiredState(data []byte) (*DesiredState, error) {
	var ds DesiredState
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

func ParseDesiredStateFile(path string) (*DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDesiredState(data)
}
