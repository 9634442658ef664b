// Package transport issues HTTP calls to the catalog service.
//
// RequestExecutor performs exactly one call per Execute and converts every
// failure into an *errors.APIError:
//
//   - a status >= 400 becomes a CatalogError or TokenError, classified by status
//   - a dial, header-wait or overall deadline becomes a TransportError with a
//     distinct reason for each bound
//   - a success body that is not JSON becomes a ResponseFormatError
//
// Primary calls are never retried. Telemetry delivery goes through
// EventSender, which retries failures the classifier marks retryable and
// dropped connections, with exponential backoff, and never surfaces errors
// from Post.
//
// Streaming calls (Request.Stream) return the open body; it is released when
// closed, when the caller's context ends, or when no data arrives within
// Config.ReadTimeout.
package transport
