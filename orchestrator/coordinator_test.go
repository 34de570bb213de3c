package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum-optimism/optimism/op-service/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-replay/runner"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

func newTestCoordinator(t *testing.T, st *recordingStore, requests RequestCatalog, r runner.Runner) *Coordinator {
	c, err := NewCoordinator(CoordinatorConfig{
		Store:         st,
		Sequencer:     st.Memory,
		Requests:      requests,
		Selector:      &stubSelector{runner: r},
		RetryStrategy: retry.Fixed(time.Millisecond),
	})
	require.NoError(t, err)
	return c
}

func TestCoordinatorRun(t *testing.T) {
	st := newRecordingStore()
	svc, requests := petstore()
	c := newTestCoordinator(t, st, requests, &stubRunner{run: replayAll})

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost:8080"}, svc, types.RunnerHTTP)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, int64(1), run.TestNumber)
	assert.Equal(t, svc.ID, run.ServiceID)
	assert.Equal(t, types.RunnerHTTP, run.RunnerType)
	assert.False(t, run.TestDate.IsZero())
	assert.True(t, run.Success)
	assert.False(t, run.InProgress)
	assert.Equal(t, 60*time.Millisecond, run.ElapsedTime)

	require.Len(t, run.TestCaseResults, 3)
	for i, op := range svc.Operations {
		tc := run.TestCaseResults[i]
		assert.Equal(t, op.Name, tc.OperationName)
		assert.True(t, tc.Success)
		require.Len(t, tc.TestStepResults, 2)

		replayed, err := st.FindRequestsByTestCase(context.Background(), types.TestCaseID(run, op))
		require.NoError(t, err)
		require.Len(t, replayed, 2)
		for _, req := range replayed {
			assert.NotEmpty(t, req.ResponseID)
			assert.NotContains(t, req.ID, "tpl-", "templates are cloned, never replayed in place")
		}
	}

	stored, err := st.GetTestRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, stored)

	// Stored templates are untouched
	for _, req := range requests[types.OperationID(svc.ID, svc.Operations[0])] {
		assert.Empty(t, req.TestCaseID)
		assert.Empty(t, req.ResponseID)
	}
}

func TestCoordinatorPublishesProgress(t *testing.T) {
	st := newRecordingStore()
	svc, requests := petstore()
	c := newTestCoordinator(t, st, requests, &stubRunner{run: replayAll})

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
	require.NoError(t, err)

	snapshots := st.published()
	// Two publications per operation plus the final save
	require.Len(t, snapshots, 2*len(svc.Operations)+1)

	for _, snap := range snapshots {
		inProgress := false
		success := true
		var elapsed time.Duration
		for i, tc := range snap.TestCaseResults {
			assert.Equal(t, svc.Operations[i].Name, tc.OperationName, "cases are published in declared order")
			inProgress = inProgress || tc.ElapsedTime == 0
			success = success && tc.Success
			elapsed += tc.ElapsedTime
			if i < len(snap.TestCaseResults)-1 {
				assert.NotZero(t, tc.ElapsedTime, "only the last case may be unresolved")
			}
		}
		assert.Equal(t, inProgress, snap.InProgress)
		assert.Equal(t, success, snap.Success)
		assert.Equal(t, elapsed, snap.ElapsedTime)
	}

	first := snapshots[0]
	require.Len(t, first.TestCaseResults, 1)
	assert.True(t, first.InProgress)
	assert.Equal(t, run, snapshots[len(snapshots)-1])
}

func TestCoordinatorAbortTruncatesRun(t *testing.T) {
	st := newRecordingStore()
	svc, requests := petstore()
	var attempted []string
	r := &stubRunner{run: func(ctx context.Context, op types.Operation, reqs []*types.Request, endpoint string) ([]*types.StepOutcome, error) {
		attempted = append(attempted, op.Name)
		if op.Name == "B" {
			return nil, fmt.Errorf("%w: bad endpoint", runner.ErrMalformedEndpoint)
		}
		return replayAll(ctx, op, reqs, endpoint)
	}}
	c := newTestCoordinator(t, st, requests, r)

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, attempted)
	require.Len(t, run.TestCaseResults, 2)
	assert.Equal(t, "A", run.TestCaseResults[0].OperationName)
	assert.True(t, run.TestCaseResults[0].Success)

	b := run.TestCaseResults[1]
	assert.Equal(t, "B", b.OperationName)
	assert.False(t, b.Success)
	assert.Zero(t, b.ElapsedTime)
	assert.Empty(t, b.TestStepResults)

	assert.Nil(t, run.TestCase("C"))
	assert.False(t, run.Success)
	assert.True(t, run.InProgress)

	stored, err := st.GetTestRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, stored.TestCaseResults, 2)
}

func TestCoordinatorAbortsOnMalformedEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected, got %s", r.URL)
	}))
	defer srv.Close()

	st := newRecordingStore()
	svc, requests := petstore()
	c := newTestCoordinator(t, st, requests, runner.NewHTTPRunner(runner.HTTPConfig{}))

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "localhost:8080/api"}, svc, types.RunnerHTTP)
	require.NoError(t, err)
	require.Len(t, run.TestCaseResults, 1)
	assert.False(t, run.TestCaseResults[0].Success)
	assert.False(t, run.Success)
}

func TestCoordinatorOperationFailureContinues(t *testing.T) {
	st := newRecordingStore()
	svc, requests := petstore()
	r := &stubRunner{run: func(ctx context.Context, op types.Operation, reqs []*types.Request, endpoint string) ([]*types.StepOutcome, error) {
		if op.Name == "B" {
			return nil, errors.New("runner exploded")
		}
		return replayAll(ctx, op, reqs, endpoint)
	}}
	c := newTestCoordinator(t, st, requests, r)

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
	require.NoError(t, err)

	require.Len(t, run.TestCaseResults, 3)
	assert.True(t, run.TestCaseResults[0].Success)
	assert.False(t, run.TestCaseResults[1].Success)
	assert.Empty(t, run.TestCaseResults[1].TestStepResults)
	assert.True(t, run.TestCaseResults[2].Success)
	assert.False(t, run.Success)
}

func TestCoordinatorInvalidCollectionURLContinues(t *testing.T) {
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
	}))
	defer srv.Close()

	collectionJSON := `{
  "info": {"name": "petstore"},
  "item": [
    {"name": "A", "item": [
      {"name": "A-1", "request": {"method": "GET", "url": "{{baseUrl}}/a"}},
      {"name": "A-2", "request": {"method": "GET", "url": "{{baseUrl}}/a"}}
    ]},
    {"name": "B", "item": [
      {"name": "B-1", "request": {"method": "POST", "url": "http://%zz/b"}}
    ]},
    {"name": "C", "item": [
      {"name": "C-1", "request": {"method": "DELETE", "url": "{{baseUrl}}/c"}},
      {"name": "C-2", "request": {"method": "DELETE", "url": "{{baseUrl}}/c"}}
    ]}
  ]
}`
	path := filepath.Join(t.TempDir(), "petstore.json")
	require.NoError(t, os.WriteFile(path, []byte(collectionJSON), 0o600))
	r, err := runner.NewCollectionRunner(path, runner.HTTPConfig{})
	require.NoError(t, err)

	st := newRecordingStore()
	svc, requests := petstore()
	c := newTestCoordinator(t, st, requests, r)

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: srv.URL}, svc, types.RunnerPostman)
	require.NoError(t, err)

	require.Len(t, run.TestCaseResults, 3)
	assert.True(t, run.TestCaseResults[0].Success)
	assert.Equal(t, "B", run.TestCaseResults[1].OperationName)
	assert.False(t, run.TestCaseResults[1].Success)
	assert.Empty(t, run.TestCaseResults[1].TestStepResults)
	assert.Equal(t, "C", run.TestCaseResults[2].OperationName)
	assert.True(t, run.TestCaseResults[2].Success)
	assert.Len(t, run.TestCaseResults[2].TestStepResults, 2)
	assert.Equal(t, []string{"/a", "/a", "/c", "/c"}, hits)
	assert.False(t, run.Success)
}

func TestCoordinatorFailedStepsFailRun(t *testing.T) {
	st := newRecordingStore()
	svc, requests := petstore()
	requests[types.OperationID(svc.ID, svc.Operations[2])][1].Name = "fail"
	c := newTestCoordinator(t, st, requests, &stubRunner{run: replayAll})

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
	require.NoError(t, err)
	assert.True(t, run.TestCaseResults[0].Success)
	assert.True(t, run.TestCaseResults[1].Success)
	assert.False(t, run.TestCaseResults[2].Success)
	assert.False(t, run.Success)
	assert.False(t, run.InProgress)
}

func TestCoordinatorRequestLoadFailure(t *testing.T) {
	st := newRecordingStore()
	svc := &types.Service{ID: "broken", Operations: []types.Operation{{Name: "catalog", Method: "GET"}}}
	c := newTestCoordinator(t, st, stubRequests{}, &stubRunner{run: replayAll})

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
	require.NoError(t, err)
	require.Len(t, run.TestCaseResults, 1)
	assert.False(t, run.TestCaseResults[0].Success)
	assert.Empty(t, run.TestCaseResults[0].TestStepResults)
}

func TestCoordinatorFinalSaveFailure(t *testing.T) {
	st := newRecordingStore()
	st.failRuns = true
	svc, requests := petstore()
	c := newTestCoordinator(t, st, requests, &stubRunner{run: replayAll})

	run, err := c.Run(context.Background(), &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
	var persistErr *PersistenceError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, run.ID, persistErr.RunID)

	// The terminal run is still reported
	require.NotNil(t, run)
	assert.Len(t, run.TestCaseResults, 3)
	assert.True(t, run.Success)
}

func TestCoordinatorNumbersRunsPerService(t *testing.T) {
	st := newRecordingStore()
	svc, requests := petstore()
	other := &types.Service{ID: "other"}
	c := newTestCoordinator(t, st, requests, &stubRunner{run: replayAll})
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		run, err := c.Run(ctx, &types.TestRun{TestedEndpoint: "http://localhost"}, svc, types.RunnerHTTP)
		require.NoError(t, err)
		assert.Equal(t, want, run.TestNumber)
	}
	run, err := c.Run(ctx, &types.TestRun{TestedEndpoint: "http://localhost"}, other, types.RunnerHTTP)
	require.NoError(t, err)
	assert.Equal(t, int64(1), run.TestNumber)
}
