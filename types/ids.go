package types

import (
	"fmt"
	"net/url"
)

// OperationID builds the identifier under which the requests of an operation are stored.
func OperationID(serviceID string, op Operation) string {
	return fmt.Sprintf("%s-%s", serviceID, op.Name)
}

// TestCaseID builds the identifier tagging every request and response of one
// operation within one test run.
func TestCaseID(run *TestRun, op Operation) string {
	return fmt.Sprintf("%s-%d-%s", run.ID, run.TestNumber, url.QueryEscape(op.Name))
}
