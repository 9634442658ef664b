package pagination

import (
	"encoding/json"
	"fmt"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
)

const (
	// DefaultBatchSize is the page size used when the caller gives none
	DefaultBatchSize = 1000

	// MaxBatchSize is the largest page the catalog serves
	MaxBatchSize = 1000

	// serverKey is where the catalog reports paging state
	serverKey = "Pagination"
	// requestIDKey is the top-level request id echoed by the catalog
	requestIDKey = "request_id"
)

// Envelope is the normalized paging state of a lineage query. Passing the
// envelope of one response back with the next request fetches the next chunk.
type Envelope struct {
	RequestID string `json:"request_id"`
	Cursor    int    `json:"cursor"`
	BatchSize int    `json:"batch_size"`
	HasMore   bool   `json:"has_more"`
}

// Validate checks a caller-supplied envelope
func (e *Envelope) Validate() error {
	if e == nil {
		return nil
	}
	if e.RequestID == "" {
		return apierrors.MissingParameter("pagination.request_id")
	}
	if e.Cursor < 0 {
		return apierrors.InvalidParameter("pagination.cursor", e.Cursor, "must not be negative")
	}
	if e.BatchSize < 0 || e.BatchSize > MaxBatchSize {
		return apierrors.InvalidParameter("pagination.batch_size", e.BatchSize,
			fmt.Sprintf("must be between 0 and %d", MaxBatchSize))
	}
	return nil
}

// ResolveBatchSize picks the page size for a request. A complete query asks
// for everything at once, so the batch is the limit. Otherwise an envelope
// from a previous page keeps its batch size, and the caller's value is used
// for a first page.
func ResolveBatchSize(complete bool, limit int, prior *Envelope, requested int) int {
	switch {
	case complete:
		return limit
	case prior != nil && prior.BatchSize > 0:
		return prior.BatchSize
	case requested > 0:
		return requested
	default:
		return DefaultBatchSize
	}
}

// serverPagination is the catalog's own paging block. Every field is
// optional.
type serverPagination struct {
	RequestID *string `json:"request_id"`
	Cursor    *int    `json:"cursor"`
	BatchSize *int    `json:"batch_size"`
	HasMore   *bool   `json:"has_more"`
}

// Normalize folds the catalog's "Pagination" block and top-level
// "request_id" into one Envelope, removing both from raw. Fields the server
// left out are taken from sent, the envelope of the request. It returns nil
// when the response carries no paging state and sent is nil.
func Normalize(raw map[string]json.RawMessage, sent *Envelope) (*Envelope, error) {
	block, hasBlock := raw[serverKey]
	topID, hasID := raw[requestIDKey]
	delete(raw, serverKey)
	delete(raw, requestIDKey)

	if !hasBlock && !hasID && sent == nil {
		return nil, nil
	}

	env := &Envelope{}
	if sent != nil {
		*env = *sent
		env.HasMore = false
	}

	if hasBlock && string(block) != "null" {
		var sp serverPagination
		if err := json.Unmarshal(block, &sp); err != nil {
			return nil, fmt.Errorf("decoding %s block: %w", serverKey, err)
		}
		if sp.RequestID != nil {
			env.RequestID = *sp.RequestID
		}
		if sp.Cursor != nil {
			env.Cursor = *sp.Cursor
		}
		if sp.BatchSize != nil {
			env.BatchSize = *sp.BatchSize
		}
		if sp.HasMore != nil {
			env.HasMore = *sp.HasMore
		}
	}

	if hasID && string(topID) != "null" {
		var id string
		if err := json.Unmarshal(topID, &id); err != nil {
			// numeric ids are kept in their literal form
			id = string(topID)
		}
		if id != "" {
			env.RequestID = id
		}
	}

	return env, nil
}

// HasNextPage reports whether another chunk can be requested with env
func HasNextPage(env *Envelope) bool {
	return env != nil && env.HasMore && env.RequestID != ""
}

// Collector tracks progress while walking every chunk of one query
type Collector struct {
	// Next is the envelope to send with the following request
	Next *Envelope
	// HasMore is false once the last chunk was seen
	HasMore bool
	// Pages counts chunks received so far
	Pages int
}

// NewCollector creates a collector positioned at the first chunk
func NewCollector(start *Envelope) *Collector {
	return &Collector{Next: start, HasMore: true}
}

// Update records the envelope returned with a chunk
func (c *Collector) Update(env *Envelope) {
	c.Pages++
	if !HasNextPage(env) {
		c.HasMore = false
		c.Next = nil
		return
	}
	next := *env
	c.Next = &next
}
