package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/ethereum-optimism/infra/op-replay/runner"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

// Executor runs one operation with a runner and classifies what went wrong.
type Executor struct {
	log     log.Logger
	timeout time.Duration
}

// NewExecutor creates an executor. A zero timeout lets operations run as
// long as their runner does.
func NewExecutor(logger log.Logger, timeout time.Duration) *Executor {
	if logger == nil {
		logger = log.New()
		logger.Error("No logger provided, using default")
	}
	return &Executor{log: logger, timeout: timeout}
}

// Execute replays the requests of an operation. A malformed endpoint or an
// expired operation timeout returns an *AbortRunError, any other failure of
// the runner, panics included, an *OperationError. Having nothing to replay
// is not an error and returns an empty slice.
func (e *Executor) Execute(ctx context.Context, r runner.Runner, svc *types.Service, op types.Operation,
	run *types.TestRun, requests []*types.Request, endpoint string) (outcomes []*types.StepOutcome, err error) {

	defer func() {
		if p := recover(); p != nil {
			e.log.Error("Runner panicked", "service", svc.ID, "operation", op.Name, "panic", p)
			outcomes, err = nil, &OperationError{Operation: op.Name, Err: fmt.Errorf("runner panic: %v", p)}
		}
	}()

	verb, err := r.BuildVerb(op.Method)
	if err != nil {
		return nil, &OperationError{Operation: op.Name, Err: err}
	}

	opCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	outcomes, err = r.RunTest(opCtx, svc, op, run, requests, endpoint, verb)
	timedOut := e.timeout > 0 && errors.Is(opCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	switch {
	case errors.Is(err, runner.ErrMalformedEndpoint):
		return nil, &AbortRunError{Operation: op.Name, Err: err}
	case timedOut:
		return nil, &AbortRunError{Operation: op.Name, Err: fmt.Errorf("operation timed out after %s", e.timeout)}
	case err != nil:
		return nil, &OperationError{Operation: op.Name, Err: err}
	}

	if outcomes == nil {
		outcomes = []*types.StepOutcome{}
	}
	return outcomes, nil
}
