package types

import "maps"

// Request is a stored request. Templates are attached to an operation and get
// cloned for every test case that replays them.
type Request struct {
	ID              string            `yaml:"id,omitempty" json:"id,omitempty"`
	Name            string            `yaml:"name" json:"name"`
	OperationID     string            `yaml:"operationId,omitempty" json:"operationId,omitempty"`
	TestCaseID      string            `yaml:"-" json:"testCaseId,omitempty"`
	ResponseID      string            `yaml:"-" json:"responseId,omitempty"`
	Path            string            `yaml:"path,omitempty" json:"path,omitempty"`
	Content         string            `yaml:"content,omitempty" json:"content,omitempty"`
	Headers         map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	QueryParameters map[string]string `yaml:"queryParameters,omitempty" json:"queryParameters,omitempty"`
}

// Clone copies the replayable parts of a template request and tags the copy
// with the owning test case.
func (r *Request) Clone(testCaseID string) *Request {
	return &Request{
		Name:            r.Name,
		OperationID:     r.OperationID,
		TestCaseID:      testCaseID,
		Path:            r.Path,
		Content:         r.Content,
		Headers:         maps.Clone(r.Headers),
		QueryParameters: maps.Clone(r.QueryParameters),
	}
}

// Response is what the tested endpoint answered to a replayed request.
type Response struct {
	ID         string            `json:"id,omitempty"`
	Name       string            `json:"name"`
	TestCaseID string            `json:"testCaseId,omitempty"`
	Status     int               `json:"status"`
	MediaType  string            `json:"mediaType,omitempty"`
	Content    string            `json:"content,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}
