package replay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

func testConfig(t *testing.T, endpoint string, services ...string) *Config {
	return &Config{
		CatalogFile:    filepath.Join("testdata", "catalog.yaml"),
		Services:       services,
		Endpoint:       endpoint,
		RunnerType:     types.RunnerHTTP,
		RunOnce:        len(services) > 0,
		RunWaitTimeout: 10 * time.Second,
		ArtifactDir:    t.TempDir(),
		Log:            log.New(),
	}
}

func petstoreBackend(t *testing.T, status int) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceSuccess(t *testing.T) {
	backend := petstoreBackend(t, http.StatusOK)
	shutdown := make(chan error, 1)

	r, err := New(context.Background(), testConfig(t, backend.URL, "petstore-1.0"), "test",
		func(err error) { shutdown <- err })
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background()))
	select {
	case err := <-shutdown:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run-once mode did not request shutdown")
	}

	require.Len(t, r.results, 1)
	run := r.results[0]
	assert.True(t, run.Success)
	assert.Equal(t, int64(1), run.TestNumber)
	assert.Len(t, run.TestCaseResults, 2)

	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, r.Stopped())
}

func TestRunOnceFailure(t *testing.T) {
	backend := petstoreBackend(t, http.StatusInternalServerError)

	r, err := New(context.Background(), testConfig(t, backend.URL, "petstore-1.0"), "test", nil)
	require.NoError(t, err)
	defer func() { _ = r.Stop(context.Background()) }()

	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsTestFailureError(err))
	assert.False(t, IsRuntimeError(err))
	var failure *TestFailureError
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, []string{"petstore-1.0 #1"}, failure.Failed)
	assert.Equal(t, 1, failure.Total)
	assert.Contains(t, err.Error(), "1 of 1 test runs failed: petstore-1.0 #1")
}

func TestRunOnceMalformedEndpointFails(t *testing.T) {
	r, err := New(context.Background(), testConfig(t, "not a url", "petstore-1.0", "hello-soap-1.0"), "test", nil)
	require.NoError(t, err)
	defer func() { _ = r.Stop(context.Background()) }()

	err = r.Start(context.Background())
	require.True(t, IsTestFailureError(err), "aborted runs are reported as failed runs, got %v", err)
	require.Len(t, r.results, 2)
	for _, run := range r.results {
		assert.Len(t, run.TestCaseResults, 1, "runs abort at their first operation")
	}
}

func TestRunOnceUnknownService(t *testing.T) {
	backend := petstoreBackend(t, http.StatusOK)

	r, err := New(context.Background(), testConfig(t, backend.URL, "unknown"), "test", nil)
	require.NoError(t, err)
	defer func() { _ = r.Stop(context.Background()) }()

	err = r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, IsRuntimeError(err))
}

func TestServeModeBuildsAPI(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.HealthzAddr = "127.0.0.1:0"
	cfg.APIAddr = "127.0.0.1:0"

	r, err := New(context.Background(), cfg, "test", nil)
	require.NoError(t, err)
	require.NotNil(t, r.service)
	assert.NotNil(t, r.service.API)
	assert.Nil(t, r.service.Metrics)
	require.NoError(t, r.Stop(context.Background()))
}

func TestNewInvalidCatalog(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.CatalogFile = filepath.Join("testdata", "missing.yaml")
	_, err := New(context.Background(), cfg, "test", nil)
	require.Error(t, err)

	_, err = New(context.Background(), nil, "test", nil)
	require.Error(t, err)
}
