package lineage

import (
	"fmt"
	"time"

	apierrors "github.com/ajitpratap0/catalog-sdk-go/pkg/errors"
	"github.com/ajitpratap0/catalog-sdk-go/pkg/pagination"
)

const (
	// MaxLimit is the largest number of nodes one query may return
	MaxLimit = 1000
	// DefaultLimit is used when Request.Limit is zero
	DefaultLimit = 1000
	// DefaultMaxDepth is used when Request.MaxDepth is zero
	DefaultMaxDepth = 10
)

// Request is one bulk lineage query. Zero values take the catalog defaults:
// limit and batch size 1000, depth 10, either design or run time, complete
// processing.
type Request struct {
	RootNodes []RootNode
	Direction Direction

	Limit     int
	BatchSize int

	// Pagination continues a chunked query; nil requests the first chunk
	Pagination     *pagination.Envelope
	ProcessingMode ProcessingMode

	ShowTemporalObjects bool
	DesignTime          DesignTime
	MaxDepth            int
	ExcludedSchemaIDs   []int

	// AllowedOTypes keeps only these object types in the returned graph.
	// nil means no filtering; it is only valid with complete processing.
	AllowedOTypes []string

	TimeFrom *time.Time
	TimeTo   *time.Time
}

func (r Request) withDefaults() Request {
	if r.Limit == 0 {
		r.Limit = DefaultLimit
	}
	if r.ProcessingMode == "" {
		r.ProcessingMode = ProcessingComplete
	}
	if r.DesignTime == 0 {
		r.DesignTime = DesignOrRunTime
	}
	if r.MaxDepth == 0 {
		r.MaxDepth = DefaultMaxDepth
	}
	return r
}

// Validate checks the request before any network call. Defaults are
// applied first, so a zero Limit is valid.
func (r Request) Validate() error {
	r = r.withDefaults()

	if len(r.RootNodes) == 0 {
		return apierrors.MissingParameter("root_nodes")
	}
	if _, err := r.keyType(); err != nil {
		return err
	}

	switch r.Direction {
	case Upstream, Downstream:
	case "":
		return apierrors.MissingParameter("direction")
	default:
		return apierrors.InvalidParameter("direction", r.Direction, "must be upstream or downstream")
	}

	if r.Limit < 0 {
		return apierrors.InvalidParameter("limit", r.Limit, "must be positive")
	}
	if r.Limit > MaxLimit {
		return apierrors.ParameterTooLarge("limit", r.Limit, MaxLimit)
	}
	if r.BatchSize < 0 || r.BatchSize > pagination.MaxBatchSize {
		return apierrors.InvalidParameter("batch_size", r.BatchSize,
			fmt.Sprintf("must be between 1 and %d", pagination.MaxBatchSize))
	}

	switch r.ProcessingMode {
	case ProcessingComplete, ProcessingChunked:
	default:
		return apierrors.InvalidParameter("processing_mode", r.ProcessingMode, "must be complete or chunked")
	}

	if r.AllowedOTypes != nil {
		if r.ProcessingMode != ProcessingComplete {
			return apierrors.ConflictingParameters("allowed_otypes", "processing_mode",
				"otype filtering is only supported in complete processing mode")
		}
		if len(r.AllowedOTypes) == 0 {
			return apierrors.InvalidParameter("allowed_otypes", r.AllowedOTypes, "must not be empty")
		}
	}

	if r.Pagination != nil {
		if r.ProcessingMode != ProcessingChunked {
			return apierrors.ConflictingParameters("pagination", "processing_mode",
				"pagination is only supported in chunked processing mode")
		}
		if err := r.Pagination.Validate(); err != nil {
			return err
		}
	}

	switch r.DesignTime {
	case DesignTimeOnly, RunTimeOnly, DesignOrRunTime:
	default:
		return apierrors.InvalidParameter("design_time", r.DesignTime, "must be 1 (design time), 2 (run time) or 3 (either)")
	}
	if r.MaxDepth < 0 {
		return apierrors.InvalidParameter("max_depth", r.MaxDepth, "must be positive")
	}
	if r.TimeFrom != nil && r.TimeTo != nil && r.TimeFrom.After(*r.TimeTo) {
		return apierrors.InvalidParameter("time_from", r.TimeFrom.Format(time.RFC3339), "must not be after time_to")
	}
	return nil
}

func (r Request) keyType() (KeyType, error) {
	var kt KeyType
	for i, root := range r.RootNodes {
		param := fmt.Sprintf("root_nodes[%d]", i)
		if root.OType == "" {
			return "", apierrors.MissingParameter(param + ".otype")
		}
		k := root.keyType()
		if k == "" {
			return "", apierrors.InvalidParameter(param, root, "needs exactly one of id or fully_qualified_name")
		}
		if kt != "" && k != kt {
			return "", apierrors.ConflictingParameters(param, "root_nodes[0]",
				"all root nodes must be identified the same way")
		}
		kt = k
	}
	return kt, nil
}

// bulkLineageBody is the JSON body of the bulk lineage endpoint
type bulkLineageBody struct {
	KeyType             KeyType        `json:"key_type"`
	RootNodes           []RootNode     `json:"root_nodes"`
	Direction           Direction      `json:"direction"`
	Limit               int            `json:"limit"`
	BatchSize           int            `json:"batch_size"`
	RequestID           string         `json:"request_id"`
	Cursor              int            `json:"cursor"`
	ProcessingMode      ProcessingMode `json:"processing_mode"`
	ShowTemporalObjects bool           `json:"show_temporal_objects"`
	Filters             bodyFilters    `json:"filters"`
}

type bodyFilters struct {
	Depth        int         `json:"depth"`
	DesignTime   DesignTime  `json:"design_time"`
	TimeFilter   *timeFilter `json:"time_filter,omitempty"`
	SchemaFilter []int       `json:"schema_filter,omitempty"`
}

type timeFilter struct {
	From *time.Time `json:"from,omitempty"`
	To   *time.Time `json:"to,omitempty"`
}

// body builds the request body; r must be validated with defaults applied
func (r Request) body(keyType KeyType, requestID string, cursor, batchSize int) bulkLineageBody {
	b := bulkLineageBody{
		KeyType:             keyType,
		RootNodes:           r.RootNodes,
		Direction:           r.Direction,
		Limit:               r.Limit,
		BatchSize:           batchSize,
		RequestID:           requestID,
		Cursor:              cursor,
		ProcessingMode:      r.ProcessingMode,
		ShowTemporalObjects: r.ShowTemporalObjects,
		Filters: bodyFilters{
			Depth:        r.MaxDepth,
			DesignTime:   r.DesignTime,
			SchemaFilter: r.ExcludedSchemaIDs,
		},
	}
	if r.TimeFrom != nil || r.TimeTo != nil {
		b.Filters.TimeFilter = &timeFilter{From: r.TimeFrom, To: r.TimeTo}
	}
	return b
}
