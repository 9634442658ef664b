// Package pagination normalizes the paging envelope of chunked lineage
// responses and decides how the next page is requested.
//
// Lineage queries in chunked processing mode return a partial subgraph
// together with paging state. The catalog reports that state in a
// "Pagination" block plus a top-level "request_id"; Normalize folds both into
// a single Envelope:
//
//	{"request_id": "...", "cursor": 5, "batch_size": 50, "has_more": true}
//
// To continue, send the envelope back unchanged:
//
//	res, err := lc.GetLineage(ctx, req)
//	for err == nil && pagination.HasNextPage(res.Pagination) {
//	    req.Pagination = res.Pagination
//	    res, err = lc.GetLineage(ctx, req)
//	}
//
// The first page carries no envelope. The lineage client then generates a
// request id so the catalog can correlate the chunks that follow.
//
// Batch size precedence is handled by ResolveBatchSize: complete queries use
// the limit, continuing pages reuse the batch size of their envelope, and
// first pages use the caller's value.
package pagination
