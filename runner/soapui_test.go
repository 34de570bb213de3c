package runner

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

// helloServer greets Andrew and faults for anyone else.
func helloServer(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if strings.Contains(string(body), "Andrew") {
			_, _ = w.Write([]byte(strings.Replace(helloEnvelope, "John", "Andrew", 1)))
			return
		}
		_, _ = w.Write([]byte(faultEnvelope))
	}))
}

func TestSoapUIRunnerRunTest(t *testing.T) {
	srv := helloServer(t)
	defer srv.Close()

	r, err := NewSoapUIRunner(filepath.Join("testdata", "hello-soapui-project.xml"), HTTPConfig{})
	require.NoError(t, err)

	op := types.Operation{Name: "sayHello", Action: "sayHello"}
	outcomes, err := r.RunTest(context.Background(), &types.Service{ID: "hello"}, op, &types.TestRun{},
		nil, srv.URL, "POST")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	assert.Equal(t, "Andrew", outcomes[0].Request.Name)
	assert.Equal(t, types.OutcomeSuccess, outcomes[0].Code, outcomes[0].Message)
	assert.Contains(t, outcomes[0].Request.Content, "<name>Andrew</name>")

	assert.Equal(t, "Karla", outcomes[1].Request.Name)
	assert.Equal(t, types.OutcomeFailure, outcomes[1].Code)
	assert.Contains(t, outcomes[1].Message, `assertion "Not SOAP Fault" failed`)
}

func TestSoapUIRunnerFiltersByRequestName(t *testing.T) {
	srv := helloServer(t)
	defer srv.Close()

	r, err := NewSoapUIRunner(filepath.Join("testdata", "hello-soapui-project.xml"), HTTPConfig{})
	require.NoError(t, err)

	karla := &types.Request{ID: "req-1", Name: "Karla"}
	outcomes, err := r.RunTest(context.Background(), &types.Service{ID: "hello"}, types.Operation{Name: "sayHello"},
		&types.TestRun{}, []*types.Request{karla}, srv.URL, "POST")
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Same(t, karla, outcomes[0].Request)
	assert.Contains(t, karla.Content, "<name>Karla</name>")

	outcomes, err = r.RunTest(context.Background(), &types.Service{ID: "hello"}, types.Operation{Name: "unknown"},
		&types.TestRun{}, nil, srv.URL, "POST")
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestNewSoapUIRunnerInvalidProject(t *testing.T) {
	_, err := NewSoapUIRunner(filepath.Join(t.TempDir(), "missing.xml"), HTTPConfig{})
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "broken.xml")
	require.NoError(t, os.WriteFile(path, []byte("<con:soapui-project"), 0o600))
	_, err = NewSoapUIRunner(path, HTTPConfig{})
	require.Error(t, err)
}

func TestEvalAssertion(t *testing.T) {
	resp := &types.Response{Status: 201, Content: helloEnvelope}
	tests := []struct {
		name      string
		assertion soapUIAssertion
		ok        bool
	}{
		{"contains", soapUIAssertion{Type: "Simple Contains", Tokens: []string{"Hello"}}, true},
		{"contains missing", soapUIAssertion{Type: "Simple Contains", Tokens: []string{"Bye"}}, false},
		{"not contains", soapUIAssertion{Type: "Simple NotContains", Tokens: []string{"Bye"}}, true},
		{"not contains present", soapUIAssertion{Type: "Simple NotContains", Tokens: []string{"John"}}, false},
		{"soap response", soapUIAssertion{Type: "SOAP Response"}, true},
		{"status codes", soapUIAssertion{Type: "Valid HTTP Status Codes", Codes: "200, 201"}, true},
		{"status codes mismatch", soapUIAssertion{Type: "Valid HTTP Status Codes", Codes: "200"}, false},
		{"unsupported", soapUIAssertion{Type: "XPath Match"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, _ := evalAssertion(tt.assertion, resp)
			assert.Equal(t, tt.ok, ok)
		})
	}
}
