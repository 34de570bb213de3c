package runner

import (
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

var _ Runner = (*SoapUIRunner)(nil)

// SoapUI project elements used to replay request test steps. Element names
// are matched on their local name so the con: namespace does not matter.
type soapUIProject struct {
	XMLName    xml.Name          `xml:"soapui-project"`
	Name       string            `xml:"name,attr"`
	TestSuites []soapUITestSuite `xml:"testSuite"`
}

type soapUITestSuite struct {
	Name      string           `xml:"name,attr"`
	TestCases []soapUITestCase `xml:"testCase"`
}

type soapUITestCase struct {
	Name  string           `xml:"name,attr"`
	Steps []soapUITestStep `xml:"testStep"`
}

type soapUITestStep struct {
	Type      string            `xml:"type,attr"`
	Name      string            `xml:"name,attr"`
	Operation string            `xml:"config>operation"`
	Request   soapUIStepRequest `xml:"config>request"`
}

type soapUIStepRequest struct {
	Content    string            `xml:"request"`
	Assertions []soapUIAssertion `xml:"assertion"`
}

type soapUIAssertion struct {
	Type   string   `xml:"type,attr"`
	Name   string   `xml:"name,attr"`
	Tokens []string `xml:"configuration>token"`
	Codes  string   `xml:"configuration>codes"`
}

// SoapUIRunner replays the request test steps of a SoapUI project and checks
// their assertions.
type SoapUIRunner struct {
	*exchanger
	project soapUIProject
}

// NewSoapUIRunner loads the project file. The file is not needed once this returns.
func NewSoapUIRunner(projectFile string, cfg HTTPConfig) (*SoapUIRunner, error) {
	data, err := os.ReadFile(projectFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read soapui project: %w", err)
	}
	var project soapUIProject
	if err := xml.Unmarshal(data, &project); err != nil {
		return nil, fmt.Errorf("failed to parse soapui project: %w", err)
	}
	return &SoapUIRunner{exchanger: newExchanger(cfg), project: project}, nil
}

func (r *SoapUIRunner) BuildVerb(string) (Verb, error) {
	return "POST", nil
}

// RunTest replays the project steps bound to the operation. When requests are
// given only the steps named after one of them are replayed.
func (r *SoapUIRunner) RunTest(ctx context.Context, svc *types.Service, op types.Operation, run *types.TestRun,
	requests []*types.Request, endpoint string, verb Verb) ([]*types.StepOutcome, error) {

	target, err := buildTarget(endpoint, op.Resource, nil)
	if err != nil {
		return nil, err
	}

	var outcomes []*types.StepOutcome
	for _, step := range r.stepsFor(op.Name) {
		req := matchRequest(requests, step.Name)
		if req == nil {
			if len(requests) > 0 {
				continue
			}
			req = &types.Request{Name: step.Name}
		}
		if strings.TrimSpace(step.Request.Content) != "" {
			req.Content = step.Request.Content
		}
		check := assertionsCheck(step.Request.Assertions)
		outcomes = append(outcomes, r.exchange(ctx, verb, target, req, soapHeaders(op), check))
	}
	return outcomes, nil
}

func (r *SoapUIRunner) stepsFor(operation string) []soapUITestStep {
	var steps []soapUITestStep
	for _, suite := range r.project.TestSuites {
		for _, tc := range suite.TestCases {
			for _, step := range tc.Steps {
				if step.Type == "request" && step.Operation == operation {
					steps = append(steps, step)
				}
			}
		}
	}
	return steps
}

func matchRequest(requests []*types.Request, name string) *types.Request {
	for _, req := range requests {
		if req.Name == name {
			return req
		}
	}
	return nil
}

// assertionsCheck evaluates the supported SoapUI assertions. Without
// assertions a 2xx response is a success.
func assertionsCheck(assertions []soapUIAssertion) checkFunc {
	return func(resp *types.Response) (bool, string) {
		if len(assertions) == 0 {
			return checkStatus(resp)
		}
		for _, a := range assertions {
			if ok, msg := evalAssertion(a, resp); !ok {
				return false, fmt.Sprintf("assertion %q failed: %s", assertionLabel(a), msg)
			}
		}
		return true, ""
	}
}

func assertionLabel(a soapUIAssertion) string {
	if a.Name != "" {
		return a.Name
	}
	return a.Type
}

func evalAssertion(a soapUIAssertion, resp *types.Response) (bool, string) {
	switch a.Type {
	case "Simple Contains":
		for _, token := range a.Tokens {
			if !strings.Contains(resp.Content, token) {
				return false, fmt.Sprintf("response does not contain %q", token)
			}
		}
	case "Simple NotContains":
		for _, token := range a.Tokens {
			if strings.Contains(resp.Content, token) {
				return false, fmt.Sprintf("response contains %q", token)
			}
		}
	case "SOAP Fault Assertion", "Not SOAP Fault Assertion":
		if fault := soapFault(resp.Content); fault != "" {
			return false, fmt.Sprintf("soap fault: %s", fault)
		}
	case "SOAP Response":
		if envelope, _, err := inspectEnvelope(resp.Content); err != nil || !envelope {
			return false, "response is not a soap envelope"
		}
	case "Valid HTTP Status Codes":
		if !slices.Contains(parseCodes(a.Codes), resp.Status) {
			return false, fmt.Sprintf("status %d not in %s", resp.Status, a.Codes)
		}
	default:
		// Unsupported assertions only get the status check
		return checkStatus(resp)
	}
	return true, ""
}

func parseCodes(codes string) []int {
	var parsed []int
	for _, c := range strings.Split(codes, ",") {
		if code, err := strconv.Atoi(strings.TrimSpace(c)); err == nil {
			parsed = append(parsed, code)
		}
	}
	return parsed
}
