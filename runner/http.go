package runner

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/time/rate"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

const (
	DefaultConnectTimeout = 200 * time.Millisecond
	DefaultReadTimeout    = 10 * time.Second

	maxResponseBytes = 10 << 20
)

var _ Runner = (*HTTPRunner)(nil)

var httpMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
	http.MethodPatch, http.MethodDelete, http.MethodOptions, http.MethodTrace,
}

// HTTPConfig holds the transport settings shared by every runner sending HTTP requests.
type HTTPConfig struct {
	Log               log.Logger
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	RequestsPerSecond float64 // Pacing of requests sent by one runner, 0 disables it
	Client            *http.Client
}

// checkFunc decides whether a received response is a success and explains failures.
type checkFunc func(resp *types.Response) (bool, string)

// exchanger sends replayed requests and records what came back.
type exchanger struct {
	log     log.Logger
	client  *http.Client
	limiter *rate.Limiter
}

func newExchanger(cfg HTTPConfig) *exchanger {
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
				ResponseHeaderTimeout: cfg.ReadTimeout,
			},
			Timeout: cfg.ConnectTimeout + cfg.ReadTimeout,
		}
	}
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &exchanger{log: cfg.Log, client: client, limiter: limiter}
}

// exchange sends one request and always returns an outcome carrying a
// Response, even when nothing was received.
func (x *exchanger) exchange(ctx context.Context, verb Verb, target string, req *types.Request,
	extraHeaders map[string]string, check checkFunc) *types.StepOutcome {

	outcome := &types.StepOutcome{
		Code:     types.OutcomeFailure,
		Request:  req,
		Response: &types.Response{Name: req.Name},
	}

	if x.limiter != nil {
		if err := x.limiter.Wait(ctx); err != nil {
			outcome.Message = fmt.Sprintf("request not sent: %v", err)
			return outcome
		}
	}

	var body io.Reader
	if req.Content != "" {
		body = strings.NewReader(req.Content)
	}
	httpReq, err := http.NewRequestWithContext(ctx, string(verb), target, body)
	if err != nil {
		outcome.Message = fmt.Sprintf("failed to build request: %v", err)
		return outcome
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	for k, v := range extraHeaders {
		if httpReq.Header.Get(k) == "" {
			httpReq.Header.Set(k, v)
		}
	}

	start := time.Now()
	httpResp, err := x.client.Do(httpReq)
	if err != nil {
		outcome.ElapsedTime = time.Since(start)
		outcome.Message = fmt.Sprintf("request failed: %v", err)
		x.log.Debug("Request failed", "request", req.Name, "url", target, "err", err)
		return outcome
	}
	defer httpResp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	outcome.ElapsedTime = time.Since(start)
	if err != nil {
		outcome.Message = fmt.Sprintf("failed to read response: %v", err)
		return outcome
	}

	resp := outcome.Response
	resp.Status = httpResp.StatusCode
	resp.MediaType = httpResp.Header.Get("Content-Type")
	resp.Content = string(content)
	resp.Headers = make(map[string]string, len(httpResp.Header))
	for k, v := range httpResp.Header {
		resp.Headers[k] = strings.Join(v, ",")
	}

	ok, message := check(resp)
	if ok {
		outcome.Code = types.OutcomeSuccess
	}
	outcome.Message = message
	x.log.Debug("Exchanged request", "request", req.Name, "url", target, "status", resp.Status, "success", ok,
		"elapsed", outcome.ElapsedTime)
	return outcome
}

// checkStatus accepts 2xx responses.
func checkStatus(resp *types.Response) (bool, string) {
	if resp.Status < 200 || resp.Status > 299 {
		return false, fmt.Sprintf("unexpected status %d", resp.Status)
	}
	return true, ""
}

// parseEndpoint validates that the tested endpoint is an absolute URL.
func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEndpoint, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not an absolute url", ErrMalformedEndpoint, endpoint)
	}
	return u, nil
}

// buildTarget appends path and query parameters to the endpoint.
func buildTarget(endpoint string, path string, query map[string]string) (string, error) {
	base, err := parseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	if path != "" {
		ref, err := url.Parse(path)
		if err != nil {
			return "", fmt.Errorf("invalid path %q: %w", path, err)
		}
		base.Path = strings.TrimSuffix(base.Path, "/") + "/" + strings.TrimPrefix(ref.Path, "/")
		if ref.RawQuery != "" {
			base.RawQuery = ref.RawQuery
		}
	}
	if len(query) > 0 {
		values := base.Query()
		for k, v := range query {
			values.Set(k, v)
		}
		base.RawQuery = values.Encode()
	}
	return base.String(), nil
}

// HTTPRunner replays requests as plain HTTP calls. It is the default runner.
type HTTPRunner struct {
	*exchanger
}

func NewHTTPRunner(cfg HTTPConfig) *HTTPRunner {
	return &HTTPRunner{exchanger: newExchanger(cfg)}
}

func (r *HTTPRunner) BuildVerb(method string) (Verb, error) {
	return httpVerb(method)
}

func httpVerb(method string) (Verb, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	if !slices.Contains(httpMethods, m) {
		return "", fmt.Errorf("unsupported http method %q", method)
	}
	return Verb(m), nil
}

// RunTest sends every request to the endpoint, suffixed by the request path
// or, when empty, the operation resource.
func (r *HTTPRunner) RunTest(ctx context.Context, svc *types.Service, op types.Operation, run *types.TestRun,
	requests []*types.Request, endpoint string, verb Verb) ([]*types.StepOutcome, error) {

	if _, err := parseEndpoint(endpoint); err != nil {
		return nil, err
	}

	var outcomes []*types.StepOutcome
	for _, req := range requests {
		path := req.Path
		if path == "" {
			path = op.Resource
		}
		target, err := buildTarget(endpoint, path, req.QueryParameters)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, r.exchange(ctx, verb, target, req, nil, checkStatus))
	}
	return outcomes, nil
}
