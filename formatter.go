package replay

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

// ResultFormatter is responsible for formatting and displaying test runs.
type ResultFormatter interface {
	FormatResults(run *types.TestRun) error
}

// ConsoleResultFormatter implements the ResultFormatter interface.
type ConsoleResultFormatter struct {
	logger log.Logger
	out    io.Writer
}

// NewConsoleResultFormatter creates a new ConsoleResultFormatter writing to
// out, or to stdout when out is nil.
func NewConsoleResultFormatter(logger log.Logger, out io.Writer) *ConsoleResultFormatter {
	if out == nil {
		out = os.Stdout
	}
	return &ConsoleResultFormatter{
		logger: logger,
		out:    out,
	}
}

// FormatResults renders one test run, one row per test case followed by its steps.
func (f *ConsoleResultFormatter) FormatResults(run *types.TestRun) error {
	if run == nil {
		return fmt.Errorf("no test run to format")
	}
	f.logger.Debug("Printing results...", "run", run.ID)

	t := table.NewWriter()
	t.SetOutputMirror(f.out)
	t.SetTitle(fmt.Sprintf("Test run #%d of %s against %s (%s)",
		run.TestNumber, run.ServiceID, run.TestedEndpoint, formatDuration(run.ElapsedTime)))

	t.AppendHeader(table.Row{"Type", "Name", "Duration", "Steps", "Passed", "Failed", "Status", "Message"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Type", AutoMerge: true},
		{Name: "Name", WidthMax: 50, WidthMaxEnforcer: text.WrapSoft},
		{Name: "Duration", Align: text.AlignRight},
		{Name: "Steps", Align: text.AlignRight},
		{Name: "Passed", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Message", WidthMax: 60, WidthMaxEnforcer: text.WrapSoft},
	})

	var totalSteps, totalPassed int
	for _, tc := range run.TestCaseResults {
		passed := 0
		for _, step := range tc.TestStepResults {
			if step.Success {
				passed++
			}
		}
		totalSteps += len(tc.TestStepResults)
		totalPassed += passed

		t.AppendRow(table.Row{
			"Case",
			tc.OperationName,
			formatDuration(tc.ElapsedTime),
			len(tc.TestStepResults),
			passed,
			len(tc.TestStepResults) - passed,
			getResultString(tc.Success),
			caseMessage(tc),
		})

		for i, step := range tc.TestStepResults {
			prefix := "├─"
			if i == len(tc.TestStepResults)-1 {
				prefix = "└─"
			}
			t.AppendRow(table.Row{
				"Step",
				fmt.Sprintf("%s %s", prefix, step.RequestName),
				formatDuration(step.ElapsedTime),
				"",
				"",
				"",
				getResultString(step.Success),
				step.Message,
			})
		}
		t.AppendSeparator()
	}

	if run.Success {
		t.SetStyle(table.StyleColoredBlackOnGreenWhite)
	} else {
		t.SetStyle(table.StyleColoredBlackOnRedWhite)
	}

	t.AppendFooter(table.Row{
		"TOTAL",
		fmt.Sprintf("%d cases", len(run.TestCaseResults)),
		formatDuration(run.ElapsedTime),
		totalSteps,
		totalPassed,
		totalSteps - totalPassed,
		getResultString(run.Success),
		"",
	})

	t.Render()
	return nil
}

// caseMessage explains cases that did not replay anything.
func caseMessage(tc types.TestCaseResult) string {
	if len(tc.TestStepResults) > 0 {
		return ""
	}
	if tc.ElapsedTime == 0 {
		return "not replayed"
	}
	return ""
}

func getResultString(success bool) string {
	if success {
		return "✓ pass"
	}
	return "✗ fail"
}

// Helper function to format duration to seconds with 3 decimal places
func formatDuration(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}
