package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/semaphore"

	"github.com/ethereum-optimism/infra/op-replay/metrics"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

const DefaultMaxConcurrentRuns = 8

// ErrLauncherClosed is returned by the handles of runs launched after Close.
var ErrLauncherClosed = errors.New("launcher closed")

// RunCoordinator drives a single test run to its terminal state.
type RunCoordinator interface {
	Run(ctx context.Context, run *types.TestRun, svc *types.Service, runnerType types.RunnerType) (*types.TestRun, error)
}

// RunHandle observes a launched test run.
type RunHandle struct {
	runID string
	done  chan struct{}
	run   *types.TestRun
	err   error
}

// RunID returns the id of the launched run, known before it starts.
func (h *RunHandle) RunID() string {
	return h.runID
}

// Done is closed once the run is terminal.
func (h *RunHandle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run is terminal or ctx is done. Giving up waiting
// does not cancel the run.
func (h *RunHandle) Wait(ctx context.Context) (*types.TestRun, error) {
	select {
	case <-h.done:
		return h.run, h.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LauncherConfig holds configuration for creating a new Launcher
type LauncherConfig struct {
	Log               log.Logger
	Coordinator       RunCoordinator
	MaxConcurrentRuns int64
}

// Launcher starts test runs in the background, bounding how many execute at once.
type Launcher struct {
	log         log.Logger
	coordinator RunCoordinator
	pool        *pool.Pool
	sem         *semaphore.Weighted

	mu     sync.RWMutex
	closed bool

	pendingMu sync.Mutex
	pending   map[string]*types.TestRun
}

func NewLauncher(cfg LauncherConfig) (*Launcher, error) {
	if cfg.Coordinator == nil {
		return nil, fmt.Errorf("coordinator is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = DefaultMaxConcurrentRuns
	}
	return &Launcher{
		log:         cfg.Log,
		coordinator: cfg.Coordinator,
		pool:        pool.New(),
		sem:         semaphore.NewWeighted(cfg.MaxConcurrentRuns),
		pending:     make(map[string]*types.TestRun),
	}, nil
}

// Launch submits the run and returns immediately. Runs queue on the
// concurrency bound inside their own task, so Launch never blocks on it.
// The run is detached from ctx cancellation: once launched it proceeds to
// completion or abort.
func (l *Launcher) Launch(ctx context.Context, run *types.TestRun, svc *types.Service,
	runnerType types.RunnerType) *RunHandle {

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	h := &RunHandle{runID: run.ID, done: make(chan struct{})}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		h.err = ErrLauncherClosed
		close(h.done)
		return h
	}

	ctx = context.WithoutCancel(ctx)
	metrics.RunStarted()
	l.trackPending(run, svc, runnerType)
	l.log.Debug("Launching test run", "run", run.ID, "service", svc.ID, "runnerType", runnerType)
	l.pool.Go(func() {
		defer close(h.done)
		defer metrics.RunFinished()
		defer l.untrackPending(run.ID)

		if err := l.sem.Acquire(ctx, 1); err != nil {
			h.err = fmt.Errorf("run %s not started: %w", run.ID, err)
			return
		}
		defer l.sem.Release(1)
		h.run, h.err = l.coordinator.Run(ctx, run, svc, runnerType)
	})
	return h
}

// Pending returns a placeholder snapshot of a launched run that has not
// terminated yet. It carries no test number until the coordinator assigns one,
// and lets readers find runs still queued on the concurrency bound before the
// coordinator first publishes them.
func (l *Launcher) Pending(runID string) (*types.TestRun, bool) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	run, ok := l.pending[runID]
	if !ok {
		return nil, false
	}
	return run.Snapshot(), true
}

func (l *Launcher) trackPending(run *types.TestRun, svc *types.Service, runnerType types.RunnerType) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	l.pending[run.ID] = &types.TestRun{
		ID:             run.ID,
		ServiceID:      svc.ID,
		TestedEndpoint: run.TestedEndpoint,
		RunnerType:     runnerType,
		InProgress:     true,
	}
}

func (l *Launcher) untrackPending(runID string) {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	delete(l.pending, runID)
}

// Close refuses new launches and waits for the in-flight runs.
func (l *Launcher) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.pool.Wait()
}
