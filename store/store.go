// Package store persists test runs and the requests and responses exchanged
// while replaying them.
package store

import (
	"context"
	"errors"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// TestRunStore persists test runs. Saved runs are snapshots: the store never
// keeps a reference to the caller's value.
type TestRunStore interface {
	// SaveTestRun creates or updates the run by its ID.
	SaveTestRun(ctx context.Context, run *types.TestRun) error
	GetTestRun(ctx context.Context, id string) (*types.TestRun, error)
	// ListTestRuns returns the runs of a service, highest test number first.
	ListTestRuns(ctx context.Context, serviceID string) ([]*types.TestRun, error)
	// LatestTestNumber returns the highest stored test number of a service, 0 if none.
	LatestTestNumber(ctx context.Context, serviceID string) (int64, error)
}

// MessageStore persists replayed requests and the responses they received.
type MessageStore interface {
	// SaveResponses persists a batch of responses, assigning IDs to new ones.
	SaveResponses(ctx context.Context, responses []*types.Response) error
	// SaveRequests persists a batch of requests, assigning IDs to new ones.
	SaveRequests(ctx context.Context, requests []*types.Request) error
	FindRequestsByTestCase(ctx context.Context, testCaseID string) ([]*types.Request, error)
	FindResponsesByTestCase(ctx context.Context, testCaseID string) ([]*types.Response, error)
}

// Store is everything the orchestrator writes to.
type Store interface {
	TestRunStore
	MessageStore
}

// Sequencer hands out per-service test numbers. Implementations must be
// atomic: concurrent callers for the same service never get the same number
// and numbers never go backwards.
type Sequencer interface {
	NextTestNumber(ctx context.Context, serviceID string) (int64, error)
}
