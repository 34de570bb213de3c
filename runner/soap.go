package runner

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

const soapContentType = "text/xml;charset=UTF-8"

var _ Runner = (*SoapHTTPRunner)(nil)

// SoapHTTPRunner replays requests as SOAP envelopes POSTed to the endpoint.
type SoapHTTPRunner struct {
	*exchanger
}

func NewSoapHTTPRunner(cfg HTTPConfig) *SoapHTTPRunner {
	return &SoapHTTPRunner{exchanger: newExchanger(cfg)}
}

// BuildVerb always returns POST, SOAP ignores the declared method.
func (r *SoapHTTPRunner) BuildVerb(string) (Verb, error) {
	return "POST", nil
}

func (r *SoapHTTPRunner) RunTest(ctx context.Context, svc *types.Service, op types.Operation, run *types.TestRun,
	requests []*types.Request, endpoint string, verb Verb) ([]*types.StepOutcome, error) {

	target, err := buildTarget(endpoint, op.Resource, nil)
	if err != nil {
		return nil, err
	}

	var outcomes []*types.StepOutcome
	for _, req := range requests {
		outcomes = append(outcomes, r.exchange(ctx, verb, target, req, soapHeaders(op), checkSoapResponse))
	}
	return outcomes, nil
}

func soapHeaders(op types.Operation) map[string]string {
	headers := map[string]string{"Content-Type": soapContentType}
	if op.Action != "" {
		headers["SOAPAction"] = fmt.Sprintf("%q", op.Action)
	}
	return headers
}

// checkSoapResponse accepts 2xx responses carrying a SOAP envelope without fault.
func checkSoapResponse(resp *types.Response) (bool, string) {
	if ok, msg := checkStatus(resp); !ok {
		if fault := soapFault(resp.Content); fault != "" {
			return false, fmt.Sprintf("%s: soap fault: %s", msg, fault)
		}
		return false, msg
	}
	envelope, fault, err := inspectEnvelope(resp.Content)
	if err != nil {
		return false, fmt.Sprintf("invalid soap response: %v", err)
	}
	if !envelope {
		return false, "response is not a soap envelope"
	}
	if fault != "" {
		return false, fmt.Sprintf("soap fault: %s", fault)
	}
	return true, ""
}

func soapFault(content string) string {
	_, fault, _ := inspectEnvelope(content)
	return fault
}

// inspectEnvelope walks the XML tokens looking for an Envelope root and a
// Fault element, whatever the SOAP version namespace is.
func inspectEnvelope(content string) (envelope bool, fault string, err error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	root := true
	inFaultString := false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return envelope, fault, nil
		}
		if err != nil {
			return envelope, fault, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if root {
				envelope = t.Name.Local == "Envelope"
				root = false
			}
			switch t.Name.Local {
			case "Fault":
				if fault == "" {
					fault = "Fault"
				}
			case "faultstring", "Text":
				inFaultString = fault != ""
			}
		case xml.CharData:
			if inFaultString {
				fault = strings.TrimSpace(string(t))
				inFaultString = false
			}
		case xml.EndElement:
			inFaultString = false
		}
	}
}
