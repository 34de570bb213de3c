package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

var (
	_ Store     = (*Memory)(nil)
	_ Sequencer = (*Memory)(nil)
)

// Memory is an in-process Store and Sequencer.
type Memory struct {
	mu        sync.RWMutex
	runs      map[string]*types.TestRun
	requests  map[string]*types.Request
	responses map[string]*types.Response
	counters  map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		runs:      make(map[string]*types.TestRun),
		requests:  make(map[string]*types.Request),
		responses: make(map[string]*types.Response),
		counters:  make(map[string]int64),
	}
}

func (m *Memory) SaveTestRun(_ context.Context, run *types.TestRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("test run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Snapshot()
	return nil
}

func (m *Memory) GetTestRun(_ context.Context, id string) (*types.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, fmt.Errorf("test run %s: %w", id, ErrNotFound)
	}
	return run.Snapshot(), nil
}

func (m *Memory) ListTestRuns(_ context.Context, serviceID string) ([]*types.TestRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var runs []*types.TestRun
	for _, run := range m.runs {
		if run.ServiceID == serviceID {
			runs = append(runs, run.Snapshot())
		}
	}
	slices.SortFunc(runs, func(a, b *types.TestRun) int {
		return cmp.Compare(b.TestNumber, a.TestNumber)
	})
	return runs, nil
}

func (m *Memory) LatestTestNumber(_ context.Context, serviceID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestLocked(serviceID), nil
}

func (m *Memory) latestLocked(serviceID string) int64 {
	var latest int64
	for _, run := range m.runs {
		if run.ServiceID == serviceID && run.TestNumber > latest {
			latest = run.TestNumber
		}
	}
	return latest
}

// NextTestNumber increments the service counter under the store lock. The
// counter starts from the highest test number already stored.
func (m *Memory) NextTestNumber(_ context.Context, serviceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := max(m.counters[serviceID], m.latestLocked(serviceID)) + 1
	m.counters[serviceID] = next
	return next, nil
}

func (m *Memory) SaveResponses(_ context.Context, responses []*types.Response) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, resp := range responses {
		if resp.ID == "" {
			resp.ID = uuid.New().String()
		}
		cp := *resp
		m.responses[resp.ID] = &cp
	}
	return nil
}

func (m *Memory) SaveRequests(_ context.Context, requests []*types.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range requests {
		if req.ID == "" {
			req.ID = uuid.New().String()
		}
		cp := *req
		m.requests[req.ID] = &cp
	}
	return nil
}

func (m *Memory) FindRequestsByTestCase(_ context.Context, testCaseID string) ([]*types.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []*types.Request
	for _, req := range m.requests {
		if req.TestCaseID == testCaseID {
			cp := *req
			found = append(found, &cp)
		}
	}
	slices.SortFunc(found, func(a, b *types.Request) int { return cmp.Compare(a.Name, b.Name) })
	return found, nil
}

func (m *Memory) FindResponsesByTestCase(_ context.Context, testCaseID string) ([]*types.Response, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found []*types.Response
	for _, resp := range m.responses {
		if resp.TestCaseID == testCaseID {
			cp := *resp
			found = append(found, &cp)
		}
	}
	slices.SortFunc(found, func(a, b *types.Response) int { return cmp.Compare(a.Name, b.Name) })
	return found, nil
}
