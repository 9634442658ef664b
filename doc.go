// Package catalog is a Go SDK for the data catalog's AI agent API.
//
// This package re-exports the entry points of the sub-packages:
//
//   - pkg/client: the Client and its configuration
//   - pkg/auth: credentials and access-token management
//   - pkg/lineage: bulk lineage queries and object-type filtering
//   - pkg/stream: tool event stream decoding
//   - pkg/telemetry: tool call timing and reporting
//   - pkg/transport: HTTP execution and error classification
//   - pkg/errors: the APIError type returned by every operation
//
// # Creating a Client
//
//	c, err := catalog.NewClient("https://catalog.example.com",
//	    catalog.ServiceAccount{ClientID: id, ClientSecret: secret},
//	)
//	if err != nil {
//	    return err
//	}
//	defer c.Close(context.Background())
//
// # Errors
//
// Every failure is an *errors.APIError carrying a kind, an optional HTTP
// status, a reason and a resolution hint:
//
//	if apiErr, ok := errors.As(err); ok {
//	    log.Printf("%s: %s", apiErr.Reason(), apiErr.ResolutionHint())
//	}
//
// Tool events are sent in the background and never fail an operation. Close
// the client to wait for the ones still in flight.
package catalog
