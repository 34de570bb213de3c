package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/ethereum-optimism/infra/op-replay/types"
)

var _ Runner = (*CollectionRunner)(nil)

var templateVarRegex = regexp.MustCompile(`^\{\{[^}]+\}\}`)

// Postman collection (v2.x) elements used to replay requests.
type collection struct {
	Info struct {
		Name string `json:"name"`
	} `json:"info"`
	Items []collectionItem `json:"item"`
}

type collectionItem struct {
	Name    string             `json:"name"`
	Items   []collectionItem   `json:"item,omitempty"`
	Request *collectionRequest `json:"request,omitempty"`
}

type collectionRequest struct {
	Method string             `json:"method"`
	URL    collectionURL      `json:"url"`
	Header []collectionHeader `json:"header"`
	Body   *struct {
		Mode string `json:"mode"`
		Raw  string `json:"raw"`
	} `json:"body,omitempty"`
}

type collectionHeader struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Disabled bool   `json:"disabled"`
}

// collectionURL accepts both the string and the object form of a request url.
type collectionURL struct {
	Raw string
}

func (u *collectionURL) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err == nil {
		u.Raw = raw
		return nil
	}
	var obj struct {
		Raw string `json:"raw"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("invalid collection url: %w", err)
	}
	u.Raw = obj.Raw
	return nil
}

// CollectionRunner replays the requests of a Postman collection against the
// tested endpoint, substituting the endpoint for the collection's base url.
type CollectionRunner struct {
	*exchanger
	collection collection
}

// NewCollectionRunner loads the collection file. The file is not needed once this returns.
func NewCollectionRunner(collectionFile string, cfg HTTPConfig) (*CollectionRunner, error) {
	data, err := os.ReadFile(collectionFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}
	var c collection
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse collection: %w", err)
	}
	if len(c.Items) == 0 {
		return nil, fmt.Errorf("collection %q has no items", c.Info.Name)
	}
	return &CollectionRunner{exchanger: newExchanger(cfg), collection: c}, nil
}

func (r *CollectionRunner) BuildVerb(method string) (Verb, error) {
	return httpVerb(method)
}

// RunTest replays the collection items of the operation: the children of the
// folder named after it or, without such folder, the items named after one
// of the requests.
func (r *CollectionRunner) RunTest(ctx context.Context, svc *types.Service, op types.Operation, run *types.TestRun,
	requests []*types.Request, endpoint string, verb Verb) ([]*types.StepOutcome, error) {

	if _, err := parseEndpoint(endpoint); err != nil {
		return nil, err
	}

	items, inFolder := r.itemsFor(op.Name, requests)
	var outcomes []*types.StepOutcome
	for _, item := range items {
		req := matchRequest(requests, item.Name)
		if req == nil {
			if !inFolder || len(requests) > 0 {
				continue
			}
			req = &types.Request{Name: item.Name}
		}

		path, err := collectionPath(item.Request.URL.Raw)
		if err != nil {
			return nil, err
		}
		target, err := buildTarget(endpoint, path, req.QueryParameters)
		if err != nil {
			return nil, err
		}

		itemVerb := verb
		if item.Request.Method != "" {
			if itemVerb, err = r.BuildVerb(item.Request.Method); err != nil {
				return nil, err
			}
		}
		if req.Content == "" && item.Request.Body != nil && item.Request.Body.Mode == "raw" {
			req.Content = item.Request.Body.Raw
		}
		headers := make(map[string]string)
		for _, h := range item.Request.Header {
			if !h.Disabled {
				headers[h.Key] = h.Value
			}
		}
		outcomes = append(outcomes, r.exchange(ctx, itemVerb, target, req, headers, checkStatus))
	}
	return outcomes, nil
}

func (r *CollectionRunner) itemsFor(operation string, requests []*types.Request) ([]collectionItem, bool) {
	if folder := findFolder(r.collection.Items, operation); folder != nil {
		return requestItems(folder.Items), true
	}
	var matched []collectionItem
	for _, item := range requestItems(r.collection.Items) {
		if matchRequest(requests, item.Name) != nil {
			matched = append(matched, item)
		}
	}
	return matched, false
}

func findFolder(items []collectionItem, name string) *collectionItem {
	for i := range items {
		if items[i].Request == nil {
			if items[i].Name == name {
				return &items[i]
			}
			if found := findFolder(items[i].Items, name); found != nil {
				return found
			}
		}
	}
	return nil
}

// requestItems flattens folders into the request items they contain.
func requestItems(items []collectionItem) []collectionItem {
	var flat []collectionItem
	for _, item := range items {
		if item.Request != nil {
			flat = append(flat, item)
			continue
		}
		flat = append(flat, requestItems(item.Items)...)
	}
	return flat
}

// collectionPath drops the base url of a collection url, which is either a
// {{variable}} or a scheme and host, keeping the path and query.
func collectionPath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if loc := templateVarRegex.FindStringIndex(raw); loc != nil {
		return raw[loc[1]:], nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid collection url %q: %w", raw, err)
	}
	if u.RawQuery != "" {
		return u.Path + "?" + u.RawQuery, nil
	}
	return u.Path, nil
}
