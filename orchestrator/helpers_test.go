package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum-optimism/infra/op-replay/runner"
	"github.com/ethereum-optimism/infra/op-replay/store"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

type runFunc func(ctx context.Context, op types.Operation, requests []*types.Request, endpoint string) ([]*types.StepOutcome, error)

type stubRunner struct {
	verbErr error
	run     runFunc
}

func (r *stubRunner) BuildVerb(method string) (runner.Verb, error) {
	if r.verbErr != nil {
		return "", r.verbErr
	}
	return runner.Verb(method), nil
}

func (r *stubRunner) RunTest(ctx context.Context, _ *types.Service, op types.Operation, _ *types.TestRun,
	requests []*types.Request, endpoint string, _ runner.Verb) ([]*types.StepOutcome, error) {
	return r.run(ctx, op, requests, endpoint)
}

// replayAll answers every request, failing the ones named "fail".
func replayAll(_ context.Context, _ types.Operation, requests []*types.Request, _ string) ([]*types.StepOutcome, error) {
	var outcomes []*types.StepOutcome
	for _, req := range requests {
		outcomes = append(outcomes, outcome(req, req.Name != "fail", 10*time.Millisecond))
	}
	return outcomes, nil
}

func outcome(req *types.Request, success bool, elapsed time.Duration) *types.StepOutcome {
	code := types.OutcomeSuccess
	status := 200
	if !success {
		code = types.OutcomeFailure
		status = 500
	}
	return &types.StepOutcome{
		Code:        code,
		ElapsedTime: elapsed,
		Request:     req,
		Response:    &types.Response{Name: req.Name, Status: status},
	}
}

type stubSelector struct {
	runner runner.Runner
}

func (s *stubSelector) Select(context.Context, types.RunnerType, string) runner.Runner {
	return s.runner
}

type stubRequests map[string][]*types.Request

func (s stubRequests) FindRequestsByOperation(_ context.Context, operationID string) ([]*types.Request, error) {
	if operationID == "broken-catalog" {
		return nil, errors.New("catalog unavailable")
	}
	return s[operationID], nil
}

// recordingStore keeps every published snapshot and the order message
// batches were saved in.
type recordingStore struct {
	*store.Memory

	mu            sync.Mutex
	snapshots     []*types.TestRun
	calls         []string
	failRuns      bool
	failResponses bool
}

func newRecordingStore() *recordingStore {
	return &recordingStore{Memory: store.NewMemory()}
}

func (s *recordingStore) SaveTestRun(ctx context.Context, run *types.TestRun) error {
	if s.failRuns {
		return errors.New("database unavailable")
	}
	s.mu.Lock()
	s.snapshots = append(s.snapshots, run.Snapshot())
	s.mu.Unlock()
	return s.Memory.SaveTestRun(ctx, run)
}

func (s *recordingStore) SaveResponses(ctx context.Context, responses []*types.Response) error {
	s.mu.Lock()
	s.calls = append(s.calls, "responses")
	s.mu.Unlock()
	if s.failResponses {
		return errors.New("database unavailable")
	}
	return s.Memory.SaveResponses(ctx, responses)
}

func (s *recordingStore) SaveRequests(ctx context.Context, requests []*types.Request) error {
	s.mu.Lock()
	s.calls = append(s.calls, "requests")
	s.mu.Unlock()
	return s.Memory.SaveRequests(ctx, requests)
}

func (s *recordingStore) published() []*types.TestRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.TestRun(nil), s.snapshots...)
}

// petstore declares operations A, B and C with two stored requests each.
func petstore() (*types.Service, stubRequests) {
	svc := &types.Service{
		ID:   "petstore-1.0",
		Name: "Petstore",
		Operations: []types.Operation{
			{Name: "A", Method: "GET"},
			{Name: "B", Method: "POST"},
			{Name: "C", Method: "DELETE"},
		},
	}
	requests := stubRequests{}
	for _, op := range svc.Operations {
		id := types.OperationID(svc.ID, op)
		requests[id] = []*types.Request{
			{ID: "tpl-" + op.Name + "-1", Name: op.Name + "-1", OperationID: id},
			{ID: "tpl-" + op.Name + "-2", Name: op.Name + "-2", OperationID: id},
		}
	}
	return svc, requests
}
