package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-replay/catalog"
	"github.com/ethereum-optimism/infra/op-replay/metrics"
	"github.com/ethereum-optimism/infra/op-replay/orchestrator"
	"github.com/ethereum-optimism/infra/op-replay/store"
	"github.com/ethereum-optimism/infra/op-replay/types"
)

// ServiceCatalog resolves the services test runs are launched for.
type ServiceCatalog interface {
	GetService(ctx context.Context, id string) (*types.Service, error)
}

// RunLauncher starts test runs in the background and knows the runs it has
// not finished yet.
type RunLauncher interface {
	Launch(ctx context.Context, run *types.TestRun, svc *types.Service, runnerType types.RunnerType) *orchestrator.RunHandle
	Pending(runID string) (*types.TestRun, bool)
}

// APIConfig holds configuration for creating a new APIServer
type APIConfig struct {
	Log               log.Logger
	Services          ServiceCatalog
	Launcher          RunLauncher
	Store             store.Store
	DefaultRunnerType types.RunnerType
}

// APIServer exposes test run launching and the published test runs over HTTP.
type APIServer struct {
	log           log.Logger
	services      ServiceCatalog
	launcher      RunLauncher
	store         store.Store
	defaultRunner types.RunnerType

	ctx    context.Context
	server *http.Server
}

type apiResponse struct {
	StatusCode int    `json:"statusCode"`
	Details    string `json:"details"`
}

// LaunchRequest is the body of a test run launch.
type LaunchRequest struct {
	ServiceID    string `json:"serviceId"`
	TestEndpoint string `json:"testEndpoint"`
	RunnerType   string `json:"runnerType,omitempty"`
}

// LaunchResponse identifies a launched test run.
type LaunchResponse struct {
	ID         string           `json:"id"`
	ServiceID  string           `json:"serviceId"`
	RunnerType types.RunnerType `json:"runnerType"`
}

// MessagesResponse lists what was exchanged for one test case.
type MessagesResponse struct {
	TestCaseID string            `json:"testCaseId"`
	Requests   []*types.Request  `json:"requests"`
	Responses  []*types.Response `json:"responses"`
}

func NewAPIServer(cfg APIConfig) (*APIServer, error) {
	if cfg.Services == nil {
		return nil, fmt.Errorf("service catalog is required")
	}
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.DefaultRunnerType == "" {
		cfg.DefaultRunnerType = types.RunnerHTTP
	}
	return &APIServer{
		log:           cfg.Log,
		services:      cfg.Services,
		launcher:      cfg.Launcher,
		store:         cfg.Store,
		defaultRunner: cfg.DefaultRunnerType,
	}, nil
}

// Handler returns the API routes.
func (a *APIServer) Handler() http.Handler {
	r := mux.NewRouter().UseEncodedPath()
	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/tests", a.handleLaunch).Methods(http.MethodPost)
	api.HandleFunc("/tests/{id}", a.handleGetTestRun).Methods(http.MethodGet)
	api.HandleFunc("/tests/{id}/cases/{operation}/messages", a.handleGetMessages).Methods(http.MethodGet)
	api.HandleFunc("/services/{serviceId}/tests", a.handleListTestRuns).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	})
	return c.Handler(r)
}

func (a *APIServer) Start(ctx context.Context, addr string) error {
	a.server = &http.Server{
		Handler: a.Handler(),
		Addr:    addr,
	}
	a.ctx = ctx
	return a.server.ListenAndServe()
}

func (a *APIServer) Shutdown() error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(a.ctx)
}

func (a *APIServer) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req LaunchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.ServiceID == "" || req.TestEndpoint == "" {
		a.writeError(w, http.StatusBadRequest, "serviceId and testEndpoint are required")
		return
	}

	runnerType := a.defaultRunner
	if req.RunnerType != "" {
		var err error
		if runnerType, err = types.ParseRunnerType(req.RunnerType); err != nil {
			a.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	svc, err := a.services.GetService(r.Context(), req.ServiceID)
	if errors.Is(err, catalog.ErrServiceNotFound) {
		a.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		a.log.Error("Failed to get service", "service", req.ServiceID, "err", err)
		a.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	run := &types.TestRun{TestedEndpoint: req.TestEndpoint}
	handle := a.launcher.Launch(r.Context(), run, svc, runnerType)
	a.log.Info("Launched test run", "run", handle.RunID(), "service", svc.ID, "runnerType", runnerType)

	w.Header().Set("Location", "/api/tests/"+handle.RunID())
	a.writeJSON(w, http.StatusCreated, LaunchResponse{ID: handle.RunID(), ServiceID: svc.ID, RunnerType: runnerType})
}

func (a *APIServer) handleGetTestRun(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathVar(w, r, "id")
	if !ok {
		return
	}
	run, err := a.store.GetTestRun(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		// Launched but not yet published, eg. queued behind other runs.
		if pending, ok := a.launcher.Pending(id); ok {
			a.writeJSON(w, http.StatusAccepted, pending)
			return
		}
	}
	if !a.checkStoreErr(w, err) {
		return
	}
	a.writeJSON(w, http.StatusOK, run)
}

func (a *APIServer) handleListTestRuns(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := a.pathVar(w, r, "serviceId")
	if !ok {
		return
	}
	runs, err := a.store.ListTestRuns(r.Context(), serviceID)
	if !a.checkStoreErr(w, err) {
		return
	}
	if runs == nil {
		runs = []*types.TestRun{}
	}
	a.writeJSON(w, http.StatusOK, runs)
}

func (a *APIServer) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id, ok := a.pathVar(w, r, "id")
	if !ok {
		return
	}
	operation, ok := a.pathVar(w, r, "operation")
	if !ok {
		return
	}

	run, err := a.store.GetTestRun(r.Context(), id)
	if !a.checkStoreErr(w, err) {
		return
	}
	if run.TestCase(operation) == nil {
		a.writeError(w, http.StatusNotFound, fmt.Sprintf("no test case for operation %q", operation))
		return
	}

	testCaseID := types.TestCaseID(run, types.Operation{Name: operation})
	requests, err := a.store.FindRequestsByTestCase(r.Context(), testCaseID)
	if !a.checkStoreErr(w, err) {
		return
	}
	responses, err := a.store.FindResponsesByTestCase(r.Context(), testCaseID)
	if !a.checkStoreErr(w, err) {
		return
	}
	if requests == nil {
		requests = []*types.Request{}
	}
	if responses == nil {
		responses = []*types.Response{}
	}
	a.writeJSON(w, http.StatusOK, MessagesResponse{TestCaseID: testCaseID, Requests: requests, Responses: responses})
}

// pathVar returns the unescaped route variable. Operation names may contain
// slashes, so routes match on the encoded path.
func (a *APIServer) pathVar(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v, err := url.PathUnescape(mux.Vars(r)[name])
	if err != nil {
		a.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s: %v", name, err))
		return "", false
	}
	return v, true
}

func (a *APIServer) checkStoreErr(w http.ResponseWriter, err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, store.ErrNotFound) {
		a.writeError(w, http.StatusNotFound, err.Error())
		return false
	}
	a.log.Error("Failed to read store", "err", err)
	metrics.RecordErrorDetails("api-store-read", err)
	a.writeError(w, http.StatusInternalServerError, "internal server error")
	return false
}

func (a *APIServer) writeError(w http.ResponseWriter, status int, details string) {
	a.writeJSON(w, status, apiResponse{StatusCode: status, Details: details})
}

func (a *APIServer) writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		a.log.Error("Failed to marshal response", "err", err)
		status = http.StatusInternalServerError
		body = []byte(`{"statusCode":500,"details":"internal server error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		a.log.Error("Failed to send response", "err", err)
	}
}
