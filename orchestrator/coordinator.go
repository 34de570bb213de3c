// Package orchestrator drives test runs: it numbers them, replays every
// operation of a service through a runner and aggregates the outcomes into a
// progressively published TestRun.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/retry"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-replay/metrics"
	"github.com/ethereum-optimism/infra/op-replay/runner"
	"github.com/ethereum-optimism/infra/op-replay/store"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

const DefaultSaveAttempts = 3

// RequestCatalog provides the stored template requests of an operation.
type RequestCatalog interface {
	FindRequestsByOperation(ctx context.Context, operationID string) ([]*types.Request, error)
}

// RunnerSelector picks the runner replaying an operation.
type RunnerSelector interface {
	Select(ctx context.Context, runnerType types.RunnerType, serviceID string) runner.Runner
}

// CoordinatorConfig holds configuration for creating a new Coordinator
type CoordinatorConfig struct {
	Log              log.Logger
	Store            store.Store
	Sequencer        store.Sequencer
	Requests         RequestCatalog
	Selector         RunnerSelector
	OperationTimeout time.Duration  // Aborts the run when an operation takes longer, 0 disables it
	SaveAttempts     int            // Attempts for each test run save
	RetryStrategy    retry.Strategy // Backoff between save attempts
}

// Coordinator owns a test run from numbering to its terminal state.
type Coordinator struct {
	log          log.Logger
	store        store.Store
	sequencer    store.Sequencer
	requests     RequestCatalog
	selector     RunnerSelector
	executor     *Executor
	aggregator   *Aggregator
	saveAttempts int
	strategy     retry.Strategy
	tracer       trace.Tracer
}

func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Sequencer == nil {
		return nil, fmt.Errorf("sequencer is required")
	}
	if cfg.Requests == nil {
		return nil, fmt.Errorf("request catalog is required")
	}
	if cfg.Selector == nil {
		return nil, fmt.Errorf("runner selector is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.SaveAttempts <= 0 {
		cfg.SaveAttempts = DefaultSaveAttempts
	}
	if cfg.RetryStrategy == nil {
		cfg.RetryStrategy = retry.Exponential()
	}

	return &Coordinator{
		log:          cfg.Log,
		store:        cfg.Store,
		sequencer:    cfg.Sequencer,
		requests:     cfg.Requests,
		selector:     cfg.Selector,
		executor:     NewExecutor(cfg.Log, cfg.OperationTimeout),
		aggregator:   NewAggregator(cfg.Log, cfg.Store),
		saveAttempts: cfg.SaveAttempts,
		strategy:     cfg.RetryStrategy,
		tracer:       otel.Tracer("test run coordinator"),
	}, nil
}

// Run executes every operation of the service in declared order and returns
// the run in its terminal state. Failed and aborted operations are reported
// in the run itself. The returned error is non-nil only when the run could
// not be numbered, or with a *PersistenceError when its final state could
// not be saved, in which case the terminal run is still returned.
func (c *Coordinator) Run(ctx context.Context, run *types.TestRun, svc *types.Service,
	runnerType types.RunnerType) (*types.TestRun, error) {

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("test run %s", svc.ID))
	defer span.End()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.TestDate.IsZero() {
		run.TestDate = time.Now()
	}
	run.ServiceID = svc.ID
	run.RunnerType = runnerType

	number, err := c.sequencer.NextTestNumber(ctx, svc.ID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordErrorDetails("failed-to-number-testrun", err)
		return nil, fmt.Errorf("failed to assign test number for service %s: %w", svc.ID, err)
	}
	run.TestNumber = number
	span.SetAttributes(
		attribute.String("run.id", run.ID),
		attribute.Int64("run.number", run.TestNumber),
		attribute.String("run.runner", string(runnerType)),
	)

	logger := c.log.New("run", run.ID, "service", svc.ID, "testNumber", run.TestNumber)
	logger.Info("Starting test run", "endpoint", run.TestedEndpoint, "runnerType", runnerType,
		"operations", len(svc.Operations))

	aborted := false
	for _, op := range svc.Operations {
		if err := c.runOperation(ctx, logger, run, svc, op, runnerType); err != nil {
			logger.Warn("Aborting test run", "operation", op.Name, "err", err)
			span.SetStatus(codes.Error, err.Error())
			aborted = true
			break
		}
	}

	Recompute(run)
	metrics.RecordTestRun(svc.ID, string(runnerType), run.Success, run.ElapsedTime)
	if aborted {
		logger.Info("Test run aborted", "success", run.Success, "elapsed", run.ElapsedTime)
	} else {
		logger.Info("Test run completed", "success", run.Success, "elapsed", run.ElapsedTime)
	}

	if err := c.save(ctx, run); err != nil {
		logger.Error("Failed to save final test run", "err", err)
		metrics.RecordErrorDetails("failed-to-save-testrun", err)
		return run, &PersistenceError{RunID: run.ID, Err: err}
	}
	return run, nil
}

// runOperation appends the test case of op to the run and resolves it. It
// only returns an error when the run must stop.
func (c *Coordinator) runOperation(ctx context.Context, logger log.Logger, run *types.TestRun, svc *types.Service,
	op types.Operation, runnerType types.RunnerType) error {

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("operation %s", op.Name))
	defer span.End()

	run.TestCaseResults = append(run.TestCaseResults, types.TestCaseResult{OperationName: op.Name})
	idx := len(run.TestCaseResults) - 1
	c.publish(ctx, logger, run)

	testCaseID := types.TestCaseID(run, op)
	requests, err := c.cloneRequests(ctx, svc, op, testCaseID)
	if err != nil {
		logger.Error("Failed to load requests", "operation", op.Name, "err", err)
		metrics.RecordErrorDetails("failed-to-load-requests", err)
		metrics.RecordTestCase(svc.ID, op.Name, false, false)
		span.SetStatus(codes.Error, err.Error())
		c.publish(ctx, logger, run)
		return nil
	}

	r := c.selector.Select(ctx, runnerType, svc.ID)
	logger.Debug("Running operation", "operation", op.Name, "requests", len(requests), "testCase", testCaseID)
	outcomes, err := c.executor.Execute(ctx, r, svc, op, run, requests, run.TestedEndpoint)

	tc := &run.TestCaseResults[idx]
	var abortErr *AbortRunError
	switch {
	case errors.As(err, &abortErr):
		tc.TestStepResults = nil
		tc.Success = false
		tc.ElapsedTime = 0
		metrics.RecordTestCase(svc.ID, op.Name, false, true)
		span.SetStatus(codes.Error, err.Error())
		c.publish(ctx, logger, run)
		return abortErr
	case err != nil:
		logger.Error("Operation failed", "operation", op.Name, "err", err)
		metrics.RecordErrorDetails("operation-failed", errors.Unwrap(err))
		metrics.RecordTestCase(svc.ID, op.Name, false, false)
		span.SetStatus(codes.Error, err.Error())
		c.publish(ctx, logger, run)
		return nil
	}

	if err := c.aggregator.FoldStepOutcomes(ctx, tc, outcomes, testCaseID); err != nil {
		logger.Error("Failed to save exchanged messages", "operation", op.Name, "err", err)
		metrics.RecordErrorDetails("failed-to-save-messages", err)
	}
	metrics.RecordTestCase(svc.ID, op.Name, tc.Success, false)
	logger.Info("Operation completed", "operation", op.Name, "steps", len(tc.TestStepResults),
		"success", tc.Success, "elapsed", tc.ElapsedTime)
	c.publish(ctx, logger, run)
	return nil
}

// cloneRequests loads the stored requests of the operation as fresh copies
// tagged with the test case.
func (c *Coordinator) cloneRequests(ctx context.Context, svc *types.Service, op types.Operation,
	testCaseID string) ([]*types.Request, error) {

	stored, err := c.requests.FindRequestsByOperation(ctx, types.OperationID(svc.ID, op))
	if err != nil {
		return nil, err
	}
	requests := make([]*types.Request, 0, len(stored))
	for _, req := range stored {
		requests = append(requests, req.Clone(testCaseID))
	}
	return requests, nil
}

// publish makes the current state of the run visible to readers. Failures
// are logged only, the next publication supersedes this one.
func (c *Coordinator) publish(ctx context.Context, logger log.Logger, run *types.TestRun) {
	if err := c.save(ctx, run); err != nil {
		logger.Warn("Failed to publish test run progress", "err", err)
		metrics.RecordErrorDetails("failed-to-save-testrun", err)
	}
}

func (c *Coordinator) save(ctx context.Context, run *types.TestRun) error {
	return retry.Do0(ctx, c.saveAttempts, c.strategy, func() error {
		return c.aggregator.RecomputeRunAggregates(ctx, run)
	})
}
