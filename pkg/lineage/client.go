package lineage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strings"

	"github.com/google/uuid"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/logging"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/pagination"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/transport"
)

// DefaultEndpoint is the bulk lineage path, relative to the base URL
const DefaultEndpoint = "/integration/v2/bulk_lineage/"

const operation = "bulk_lineage"

// Result is a normalized bulk lineage response. Keys the catalog returns
// beyond graph, pagination and direction are kept in Extra.
type Result struct {
	Graph      []GraphNode          `json:"graph"`
	Pagination *pagination.Envelope `json:"pagination,omitempty"`
	Direction  Direction            `json:"direction"`

	Extra map[string]json.RawMessage `json:"-"`
}

// MarshalJSON renders the result as one flat object, Extra keys included
func (r *Result) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(r.Extra)+3)
	for k, v := range r.Extra {
		out[k] = v
	}
	graph := r.Graph
	if graph == nil {
		graph = []GraphNode{}
	}
	out["graph"] = graph
	out["direction"] = r.Direction
	if r.Pagination != nil {
		out["pagination"] = r.Pagination
	}
	return json.Marshal(out)
}

// Client queries the bulk lineage endpoint
type Client struct {
	baseURL  string
	endpoint string
	exec     transport.Executor
	logger   logging.Logger
	newID    func() string
}

// Option configures a Client
type Option func(*Client)

// WithEndpoint overrides the bulk lineage path
func WithEndpoint(path string) Option {
	return func(c *Client) {
		c.endpoint = path
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a lineage client. exec is normally the client's
// authorized executor.
func NewClient(baseURL string, exec transport.Executor, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		endpoint: DefaultEndpoint,
		exec:     exec,
		logger:   logging.Default(),
		newID:    newRequestID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithFields(logging.Component("LineageClient"))
	return c
}

// newRequestID returns a fresh id for the first chunk of a query
func newRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetLineage runs one lineage query. Invalid requests fail with a parameter
// error before any call is made. In complete mode with AllowedOTypes set, the
// graph is filtered locally; chunked results are never filtered, since a
// partial graph cannot be spliced correctly.
func (c *Client) GetLineage(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	req = req.withDefaults()
	keyType, _ := req.keyType()
	complete := req.ProcessingMode == ProcessingComplete

	batchSize := pagination.ResolveBatchSize(complete, req.Limit, req.Pagination, req.BatchSize)
	sent := &pagination.Envelope{BatchSize: batchSize}
	if req.Pagination != nil {
		sent.RequestID = req.Pagination.RequestID
		sent.Cursor = req.Pagination.Cursor
	} else {
		sent.RequestID = c.newID()
	}

	logger := c.logger.WithContext(ctx).WithFields(
		logging.String("direction", string(req.Direction)),
		logging.String("processing_mode", string(req.ProcessingMode)),
		logging.String("lineage_request_id", sent.RequestID),
		logging.Int("cursor", sent.Cursor),
	)
	logger.Debug("Fetching lineage")

	resp, err := c.exec.Execute(ctx, &transport.Request{
		Operation: operation,
		Method:    http.MethodPost,
		URL:       c.baseURL + c.endpoint,
		JSON:      req.body(keyType, sent.RequestID, sent.Cursor, batchSize),
		Scope:     transport.ScopeCatalog,
	})
	if err != nil {
		return nil, err
	}

	var raw map[string]json.RawMessage
	if err := resp.Decode(&raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, malformed(resp, errors.New("lineage response is not a JSON object"))
	}

	result := &Result{Direction: req.Direction}
	if graph, ok := raw["graph"]; ok && string(graph) != "null" {
		if err := json.Unmarshal(graph, &result.Graph); err != nil {
			return nil, malformed(resp, fmt.Errorf("lineage graph is not a list of nodes: %w", err))
		}
	}
	delete(raw, "graph")
	delete(raw, "direction")

	result.Pagination, err = pagination.Normalize(raw, sent)
	if err != nil {
		return nil, malformed(resp, err)
	}

	if meta := resp.EntitlementMeta(); meta != nil {
		data, _ := json.Marshal(map[string]interface{}{"headers": meta})
		raw["_meta"] = data
	}
	if len(raw) > 0 {
		result.Extra = raw
	}

	if complete && req.AllowedOTypes != nil {
		before := len(result.Graph)
		result.Graph = FilterGraph(result.Graph, req.AllowedOTypes)
		logger.Debug("Filtered lineage graph",
			logging.Int("nodes_before", before),
			logging.Int("nodes_after", len(result.Graph)),
		)
	}
	return result, nil
}

// Pages walks every chunk of a chunked query, sending each returned
// envelope with the next request. Iteration stops after the last chunk or
// the first error.
func (c *Client) Pages(ctx context.Context, req Request) iter.Seq2[*Result, error] {
	return func(yield func(*Result, error) bool) {
		if req.ProcessingMode != ProcessingChunked {
			yield(nil, apierrors.InvalidParameter("processing_mode", req.ProcessingMode, "paging requires chunked processing mode"))
			return
		}

		collector := pagination.NewCollector(req.Pagination)
		for collector.HasMore {
			req.Pagination = collector.Next
			res, err := c.GetLineage(ctx, req)
			if err != nil {
				yield(nil, err)
				return
			}
			collector.Update(res.Pagination)
			if !yield(res, nil) {
				return
			}
		}
	}
}

func malformed(resp *transport.Response, cause error) *apierrors.APIError {
	return apierrors.MalformedResponse(operation, resp.StatusCode, string(resp.Body), false).WithCause(cause)
}
