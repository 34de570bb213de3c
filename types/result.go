package types

import (
	"slices"
	"time"
)

// TestRun is one execution of all the operations of a service against an endpoint.
type TestRun struct {
	ID              string           `json:"id"`
	ServiceID       string           `json:"serviceId"`
	TestedEndpoint  string           `json:"testedEndpoint"`
	RunnerType      RunnerType       `json:"runnerType"`
	TestNumber      int64            `json:"testNumber"` // Strictly increasing per service
	TestDate        time.Time        `json:"testDate"`
	TestCaseResults []TestCaseResult `json:"testCaseResults"`
	Success         bool             `json:"success"`
	InProgress      bool             `json:"inProgress"`
	ElapsedTime     time.Duration    `json:"elapsedTime"`
}

// TestCaseResult is the outcome of one operation within a test run
type TestCaseResult struct {
	OperationName   string           `json:"operationName"`
	TestStepResults []TestStepResult `json:"testStepResults"`
	Success         bool             `json:"success"`
	ElapsedTime     time.Duration    `json:"elapsedTime"` // Zero while the case is not resolved
}

// TestStepResult is the outcome of one request/response exchange.
type TestStepResult struct {
	Success     bool          `json:"success"`
	ElapsedTime time.Duration `json:"elapsedTime"`
	RequestName string        `json:"requestName"`
	Message     string        `json:"message,omitempty"`
	RequestID   string        `json:"requestId,omitempty"`
	ResponseID  string        `json:"responseId,omitempty"`
}

// Snapshot returns a deep copy of the run that can be handed to readers and
// stores while the owner keeps mutating the original.
func (r *TestRun) Snapshot() *TestRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.TestCaseResults = make([]TestCaseResult, len(r.TestCaseResults))
	for i, tc := range r.TestCaseResults {
		tc.TestStepResults = slices.Clone(tc.TestStepResults)
		cp.TestCaseResults[i] = tc
	}
	return &cp
}

// TestCase returns the result recorded for an operation, or nil.
func (r *TestRun) TestCase(operationName string) *TestCaseResult {
	for i := range r.TestCaseResults {
		if r.TestCaseResults[i].OperationName == operationName {
			return &r.TestCaseResults[i]
		}
	}
	return nil
}

// OutcomeCode tells whether a replayed exchange succeeded.
type OutcomeCode int

const (
	OutcomeSuccess OutcomeCode = iota
	OutcomeFailure
)

// StepOutcome is the raw result a runner produces for one replayed request.
type StepOutcome struct {
	Code        OutcomeCode
	ElapsedTime time.Duration
	Message     string
	Request     *Request
	Response    *Response
}

// StepResult derives the reported step from the raw outcome.
func (o *StepOutcome) StepResult() TestStepResult {
	step := TestStepResult{
		Success:     o.Code == OutcomeSuccess,
		ElapsedTime: o.ElapsedTime,
		Message:     o.Message,
	}
	if o.Request != nil {
		step.RequestName = o.Request.Name
		step.RequestID = o.Request.ID
	}
	if o.Response != nil {
		step.ResponseID = o.Response.ID
	}
	return step
}
