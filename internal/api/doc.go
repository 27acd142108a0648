// Package api implements the HTTP REST API and WebSocket server for the
// Gray Logic gateway.
//
// This package provides:
//   - The subsystem status document and readiness summary
//   - Commissioning, pairing and commissioning-window endpoints
//   - Read access to devices and the commissioning audit trail
//   - A WebSocket hub streaming commissioning progress and readiness changes
//   - Bearer token authentication with per-role permissions
//
// # Architecture
//
// Commissioning requests block until the orchestrator reports an outcome or
// the requested timeout passes, so the HTTP write timeout must exceed the
// longest commissioning timeout. Only one attempt runs at a time; a second
// caller gets 409 Conflict instead of queueing.
//
// # Security
//
// When security.jwt.secret is set every /api/v1 route except /health needs
// an Authorization: Bearer token minted by the `token` command. WebSocket
// clients exchange their token for a single-use ticket so the token never
// appears in a URL. With no secret the API is open.
package api
