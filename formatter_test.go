package replay

import (
	"bytes"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

func createSampleRun() *types.TestRun {
	return &types.TestRun{
		ID:             "run-1",
		ServiceID:      "petstore-1.0",
		TestedEndpoint: "http://localhost:8080",
		TestNumber:     7,
		ElapsedTime:    30 * time.Millisecond,
		TestCaseResults: []types.TestCaseResult{
			{
				OperationName: "GET /pets",
				Success:       true,
				ElapsedTime:   30 * time.Millisecond,
				TestStepResults: []types.TestStepResult{
					{Success: true, ElapsedTime: 10 * time.Millisecond, RequestName: "all"},
					{Success: true, ElapsedTime: 20 * time.Millisecond, RequestName: "one"},
				},
			},
			{OperationName: "POST /pets"},
		},
	}
}

func TestConsoleResultFormatter_FormatResults(t *testing.T) {
	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(log.New(), &out)

	require.NoError(t, formatter.FormatResults(createSampleRun()))

	rendered := out.String()
	assert.Contains(t, rendered, "Test run #7 of petstore-1.0")
	assert.Contains(t, rendered, "GET /pets")
	assert.Contains(t, rendered, "└─ one")
	assert.Contains(t, rendered, "not replayed")
	assert.Contains(t, rendered, "2 CASES", "footers are upper cased")
}

func TestConsoleResultFormatter_FormatResults_EmptyRun(t *testing.T) {
	var out bytes.Buffer
	formatter := NewConsoleResultFormatter(log.New(), &out)

	err := formatter.FormatResults(&types.TestRun{ID: "empty", ServiceID: "svc", Success: true})
	assert.NoError(t, err)
	assert.Contains(t, out.String(), "0 CASES")

	assert.Error(t, formatter.FormatResults(nil))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "1.500s", formatDuration(1500*time.Millisecond))
	assert.Equal(t, "0.000s", formatDuration(0))
}
