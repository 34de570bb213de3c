package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-replay/store"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

// Aggregator folds runner outcomes into test cases and test cases into the run.
type Aggregator struct {
	log   log.Logger
	store store.Store
}

func NewAggregator(logger log.Logger, st store.Store) *Aggregator {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Aggregator{log: logger, store: st}
}

// FoldStepOutcomes appends one step per outcome to the test case and
// persists the exchanged messages tagged with testCaseID. Responses are
// saved first so that requests are saved already linked to them. The test
// case is folded even when persistence fails.
func (a *Aggregator) FoldStepOutcomes(ctx context.Context, tc *types.TestCaseResult, outcomes []*types.StepOutcome,
	testCaseID string) error {

	var (
		requests  []*types.Request
		responses []*types.Response
	)
	for _, o := range outcomes {
		if o.Request != nil {
			o.Request.TestCaseID = testCaseID
			requests = append(requests, o.Request)
		}
		if o.Response != nil {
			o.Response.TestCaseID = testCaseID
			responses = append(responses, o.Response)
		}
	}

	persistErr := a.persistMessages(ctx, outcomes, requests, responses)

	for _, o := range outcomes {
		tc.TestStepResults = append(tc.TestStepResults, o.StepResult())
	}
	recomputeTestCase(tc)
	return persistErr
}

func (a *Aggregator) persistMessages(ctx context.Context, outcomes []*types.StepOutcome,
	requests []*types.Request, responses []*types.Response) error {

	if len(responses) > 0 {
		if err := a.store.SaveResponses(ctx, responses); err != nil {
			// Requests are not saved pointing at responses that may not exist
			return fmt.Errorf("failed to save responses: %w", err)
		}
	}
	for _, o := range outcomes {
		if o.Request != nil && o.Response != nil {
			o.Request.ResponseID = o.Response.ID
		}
	}
	if len(requests) > 0 {
		if err := a.store.SaveRequests(ctx, requests); err != nil {
			return fmt.Errorf("failed to save requests: %w", err)
		}
	}
	return nil
}

// recomputeTestCase derives elapsed time and success from the steps. A case
// without steps is never successful.
func recomputeTestCase(tc *types.TestCaseResult) {
	var elapsed time.Duration
	success := len(tc.TestStepResults) > 0
	for _, step := range tc.TestStepResults {
		elapsed += step.ElapsedTime
		success = success && step.Success
	}
	tc.ElapsedTime = elapsed
	tc.Success = success
}

// Recompute derives the run aggregates from its test cases. It only reads the
// cases, calling it repeatedly yields the same values.
func Recompute(run *types.TestRun) {
	run.Success = true
	run.InProgress = false
	run.ElapsedTime = 0
	for _, tc := range run.TestCaseResults {
		run.Success = run.Success && tc.Success
		run.InProgress = run.InProgress || tc.ElapsedTime == 0
		run.ElapsedTime += tc.ElapsedTime
	}
}

// RecomputeRunAggregates recomputes the run aggregates and persists a snapshot of the run.
func (a *Aggregator) RecomputeRunAggregates(ctx context.Context, run *types.TestRun) error {
	Recompute(run)
	if err := a.store.SaveTestRun(ctx, run.Snapshot()); err != nil {
		return fmt.Errorf("failed to save test run: %w", err)
	}
	a.log.Debug("Recomputed run aggregates", "run", run.ID, "success", run.Success,
		"inProgress", run.InProgress, "elapsed", run.ElapsedTime)
	return nil
}
