// Package runner contains the protocol strategies replaying stored requests
// against a tested endpoint, and the selector choosing one of them for a run.
package runner

import (
	"context"
	"errors"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

var (
	// ErrMalformedEndpoint is returned when the tested endpoint is not a valid
	// absolute URL. It aborts the whole test run.
	ErrMalformedEndpoint = errors.New("malformed endpoint")
	// ErrArtifactUnavailable is returned when the artifact backing a runner
	// variant cannot be located or fetched.
	ErrArtifactUnavailable = errors.New("artifact unavailable")
)

// Verb is the transport verb a runner sends requests with.
type Verb string

// Runner replays the requests of one operation against an endpoint.
type Runner interface {
	// BuildVerb maps the method declared by an operation to the runner's verb.
	BuildVerb(method string) (Verb, error)
	// RunTest replays requests and returns one outcome per exchange. An
	// empty result with a nil error means there was nothing to replay.
	RunTest(ctx context.Context, svc *types.Service, op types.Operation, run *types.TestRun,
		requests []*types.Request, endpoint string, verb Verb) ([]*types.StepOutcome, error)
}
