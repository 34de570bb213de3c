// Package catalog loads the services, stored requests and import jobs that
// op-replay replays from a YAML file.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"gopkg.in/yaml.v3"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

// ErrServiceNotFound is returned when a service is not declared in the catalog.
var ErrServiceNotFound = errors.New("service not found")

// File is the on-disk layout of the catalog.
type File struct {
	Services   []ServiceConfig   `yaml:"services"`
	ImportJobs []types.ImportJob `yaml:"importJobs"`
}

// ServiceConfig declares a service along with the template requests of its operations
type ServiceConfig struct {
	ID         string            `yaml:"id"`
	Name       string            `yaml:"name"`
	Version    string            `yaml:"version"`
	Type       string            `yaml:"type,omitempty"`
	Operations []OperationConfig `yaml:"operations"`
}

// OperationConfig declares an operation and the requests stored for it
type OperationConfig struct {
	types.Operation `yaml:",inline"`
	Requests        []types.Request `yaml:"requests,omitempty"`
}

// Config contains catalog configuration
type Config struct {
	Log  log.Logger
	File string
}

// Catalog is a read-only view over the services, stored requests and import
// jobs declared in the catalog file.
type Catalog struct {
	log        log.Logger
	services   map[string]*types.Service
	order      []string
	requests   map[string][]*types.Request
	importJobs []*types.ImportJob
	mu         sync.RWMutex
}

// NewCatalog loads the catalog file.
func NewCatalog(cfg Config) (*Catalog, error) {
	if cfg.File == "" {
		return nil, fmt.Errorf("catalog file is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}

	data, err := os.ReadFile(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file: %w", err)
	}

	c, err := New(file)
	if err != nil {
		return nil, err
	}
	c.log = cfg.Log
	c.log.Debug("Catalog loaded", "services", len(c.services), "importJobs", len(c.importJobs))
	return c, nil
}

// New builds a catalog from an already decoded file.
func New(file File) (*Catalog, error) {
	c := &Catalog{
		log:      log.Root(),
		services: make(map[string]*types.Service),
		requests: make(map[string][]*types.Request),
	}

	for _, sc := range file.Services {
		if sc.ID == "" {
			return nil, fmt.Errorf("service %q has no id", sc.Name)
		}
		if _, exists := c.services[sc.ID]; exists {
			return nil, fmt.Errorf("duplicate service id %s", sc.ID)
		}

		svc := &types.Service{ID: sc.ID, Name: sc.Name, Version: sc.Version, Type: sc.Type}
		seen := make(map[string]bool)
		for _, oc := range sc.Operations {
			if oc.Name == "" {
				return nil, fmt.Errorf("service %s declares an operation without name", sc.ID)
			}
			if seen[oc.Name] {
				return nil, fmt.Errorf("service %s declares operation %s twice", sc.ID, oc.Name)
			}
			seen[oc.Name] = true
			svc.Operations = append(svc.Operations, oc.Operation)

			opID := types.OperationID(sc.ID, oc.Operation)
			for i := range oc.Requests {
				req := oc.Requests[i]
				req.OperationID = opID
				c.requests[opID] = append(c.requests[opID], &req)
			}
		}

		c.services[sc.ID] = svc
		c.order = append(c.order, sc.ID)
	}

	for i := range file.ImportJobs {
		job := file.ImportJobs[i]
		if job.RepositoryURL == "" {
			return nil, fmt.Errorf("import job %s has no repository url", job.ID)
		}
		c.importJobs = append(c.importJobs, &job)
	}

	return c, nil
}

// GetService returns the service declared with the given id.
func (c *Catalog) GetService(_ context.Context, id string) (*types.Service, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	svc, ok := c.services[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, id)
	}
	cp := *svc
	cp.Operations = slices.Clone(svc.Operations)
	return &cp, nil
}

// Services returns the ids of all services, in declaration order.
func (c *Catalog) Services() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.order)
}

// FindRequestsByOperation returns copies of the template requests stored for an operation.
func (c *Catalog) FindRequestsByOperation(_ context.Context, operationID string) ([]*types.Request, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stored := c.requests[operationID]
	requests := make([]*types.Request, 0, len(stored))
	for _, req := range stored {
		cp := *req
		requests = append(requests, &cp)
	}
	return requests, nil
}

// FindImportJobsByService returns the import jobs referencing a service,
// most recently created first.
func (c *Catalog) FindImportJobsByService(_ context.Context, serviceID string) ([]*types.ImportJob, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var jobs []*types.ImportJob
	for _, job := range c.importJobs {
		if job.References(serviceID) {
			cp := *job
			jobs = append(jobs, &cp)
		}
	}
	slices.SortStableFunc(jobs, func(a, b *types.ImportJob) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	return jobs, nil
}
