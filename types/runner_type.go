package types

import (
	"fmt"
	"slices"
	"strings"
)

// RunnerType selects the protocol strategy used to replay requests
type RunnerType string

const (
	RunnerHTTP     RunnerType = "HTTP"
	RunnerSoapHTTP RunnerType = "SOAP_HTTP"
	RunnerSoapUI   RunnerType = "SOAP_UI"
	RunnerPostman  RunnerType = "POSTMAN"
)

// RunnerTypes lists every supported runner type.
var RunnerTypes = []RunnerType{RunnerHTTP, RunnerSoapHTTP, RunnerSoapUI, RunnerPostman}

// IsValid returns true if the runner type is supported
func (t RunnerType) IsValid() bool {
	return slices.Contains(RunnerTypes, t)
}

// ParseRunnerType parses a runner type, accepting lowercase and dashed forms (eg. "soap-ui").
func ParseRunnerType(s string) (RunnerType, error) {
	t := RunnerType(strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_")))
	if !t.IsValid() {
		return "", fmt.Errorf("invalid runner type: %q", s)
	}
	return t, nil
}
