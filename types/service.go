package types

import (
	"slices"
	"time"
)

// Service is an API described by a set of operations.
type Service struct {
	ID         string      `yaml:"id" json:"id"`
	Name       string      `yaml:"name" json:"name"`
	Version    string      `yaml:"version" json:"version"`
	Type       string      `yaml:"type,omitempty" json:"type,omitempty"`
	Operations []Operation `yaml:"operations" json:"operations"`
}

// Operation is a single API operation of a service
type Operation struct {
	Name     string `yaml:"name" json:"name"`
	Method   string `yaml:"method" json:"method"`                         // Transport method declared for the operation (eg. GET, POST)
	Action   string `yaml:"action,omitempty" json:"action,omitempty"`     // SOAPAction for SOAP operations
	Resource string `yaml:"resource,omitempty" json:"resource,omitempty"` // Resource path appended to the tested endpoint
}

// ImportJob describes where the artifact backing a service was imported from.
type ImportJob struct {
	ID            string    `yaml:"id" json:"id"`
	Name          string    `yaml:"name" json:"name"`
	RepositoryURL string    `yaml:"repositoryUrl" json:"repositoryUrl"`
	ServiceRefs   []string  `yaml:"serviceRefs" json:"serviceRefs"`
	CreatedAt     time.Time `yaml:"createdAt" json:"createdAt"`
}

// References returns true if the job imported the given service.
func (j *ImportJob) References(serviceID string) bool {
	return slices.Contains(j.ServiceRefs, serviceID)
}
