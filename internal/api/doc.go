// Package api implements the HTTP REST API of the grow engine.
//
// This package provides:
//   - Recipe catalog endpoints: recipes, revisions, phases and steps
//   - Grow cycle lifecycle endpoints, the transition ledger and overrides
//   - Effective targets for a cycle, a zone, or a batch of zones
//   - Command dispatch, acknowledgements, status writes and the timeout sweep
//   - Site setup: greenhouses, zones, nodes and plants
//   - /health and Prometheus /metrics
//
// # Security
//
// Every route except /health and /metrics requires a bearer JWT issued by
// auth.IssueToken (growctl token). The token's subject, role and zone
// restriction become the auth.ActorContext passed to the domain services,
// which make every authorisation decision themselves.
//
// # Errors
//
// Domain errors are rendered from their apperr kind: validation 400,
// not_found 404, state and conflict 409, forbidden 403, upstream 503.
// The body is {"status", "code", "error_kind", "message", "id"}.
package api
