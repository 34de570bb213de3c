package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

func TestFoldStepOutcomesLinksRequestsAndResponses(t *testing.T) {
	st := newRecordingStore()
	agg := NewAggregator(nil, st)
	ctx := context.Background()

	outcomes := []*types.StepOutcome{
		outcome(&types.Request{Name: "first"}, true, 10*time.Millisecond),
		outcome(&types.Request{Name: "second"}, true, 15*time.Millisecond),
	}
	tc := &types.TestCaseResult{OperationName: "GET /pets"}
	require.NoError(t, agg.FoldStepOutcomes(ctx, tc, outcomes, "run-1-GET+%2Fpets"))

	assert.Equal(t, []string{"responses", "requests"}, st.calls)
	assert.True(t, tc.Success)
	assert.Equal(t, 25*time.Millisecond, tc.ElapsedTime)
	require.Len(t, tc.TestStepResults, 2)

	for i, o := range outcomes {
		step := tc.TestStepResults[i]
		assert.Equal(t, "run-1-GET+%2Fpets", o.Request.TestCaseID)
		assert.Equal(t, "run-1-GET+%2Fpets", o.Response.TestCaseID)
		assert.NotEmpty(t, o.Response.ID)
		assert.Equal(t, o.Response.ID, o.Request.ResponseID)
		assert.Equal(t, o.Request.ID, step.RequestID)
		assert.Equal(t, o.Response.ID, step.ResponseID)
		assert.Equal(t, o.Request.Name, step.RequestName)
	}

	requests, err := st.FindRequestsByTestCase(ctx, "run-1-GET+%2Fpets")
	require.NoError(t, err)
	require.Len(t, requests, 2)
	responses, err := st.FindResponsesByTestCase(ctx, "run-1-GET+%2Fpets")
	require.NoError(t, err)
	require.Len(t, responses, 2)
	for i := range requests {
		assert.Equal(t, responses[i].ID, requests[i].ResponseID)
	}
}

func TestFoldStepOutcomesSuccess(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		success  bool
	}{
		{name: "no steps", outcomes: nil, success: false},
		{name: "all succeed", outcomes: []bool{true, true, true}, success: true},
		{name: "one fails", outcomes: []bool{true, false, true}, success: false},
		{name: "single failure", outcomes: []bool{false}, success: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := NewAggregator(nil, newRecordingStore())
			var outcomes []*types.StepOutcome
			for _, ok := range tt.outcomes {
				outcomes = append(outcomes, outcome(&types.Request{Name: "r"}, ok, time.Millisecond))
			}
			tc := &types.TestCaseResult{OperationName: "op"}
			require.NoError(t, agg.FoldStepOutcomes(context.Background(), tc, outcomes, "tc"))
			assert.Equal(t, tt.success, tc.Success)
			assert.Len(t, tc.TestStepResults, len(tt.outcomes))
		})
	}
}

func TestFoldStepOutcomesPersistenceFailure(t *testing.T) {
	st := newRecordingStore()
	st.failResponses = true
	agg := NewAggregator(nil, st)

	outcomes := []*types.StepOutcome{outcome(&types.Request{Name: "r"}, true, time.Millisecond)}
	tc := &types.TestCaseResult{OperationName: "op"}
	err := agg.FoldStepOutcomes(context.Background(), tc, outcomes, "tc")
	require.Error(t, err)

	// Requests are never saved without their responses
	assert.Equal(t, []string{"responses"}, st.calls)
	assert.True(t, tc.Success)
	assert.Len(t, tc.TestStepResults, 1)
}

func TestRecompute(t *testing.T) {
	run := &types.TestRun{TestCaseResults: []types.TestCaseResult{
		{OperationName: "A", Success: true, ElapsedTime: 10 * time.Millisecond},
		{OperationName: "B", Success: false, ElapsedTime: 5 * time.Millisecond},
		{OperationName: "C", Success: true, ElapsedTime: 0},
	}}

	Recompute(run)
	assert.False(t, run.Success)
	assert.True(t, run.InProgress)
	assert.Equal(t, 15*time.Millisecond, run.ElapsedTime)

	first := *run
	Recompute(run)
	assert.Equal(t, first.Success, run.Success)
	assert.Equal(t, first.InProgress, run.InProgress)
	assert.Equal(t, first.ElapsedTime, run.ElapsedTime)

	run.TestCaseResults[1].Success = true
	run.TestCaseResults[2].ElapsedTime = time.Millisecond
	Recompute(run)
	assert.True(t, run.Success)
	assert.False(t, run.InProgress)
	assert.Equal(t, 16*time.Millisecond, run.ElapsedTime)
}

func TestRecomputeRunAggregatesPersistsSnapshot(t *testing.T) {
	st := newRecordingStore()
	agg := NewAggregator(nil, st)
	run := &types.TestRun{ID: "run-1", ServiceID: "svc", TestCaseResults: []types.TestCaseResult{
		{OperationName: "A", Success: true, ElapsedTime: time.Millisecond},
	}}

	require.NoError(t, agg.RecomputeRunAggregates(context.Background(), run))
	require.NoError(t, agg.RecomputeRunAggregates(context.Background(), run))

	snapshots := st.published()
	require.Len(t, snapshots, 2)
	assert.Equal(t, snapshots[0], snapshots[1])
	assert.True(t, snapshots[1].Success)

	// Snapshots do not follow later mutations of the run
	run.TestCaseResults[0].Success = false
	assert.True(t, snapshots[1].TestCaseResults[0].Success)
}
