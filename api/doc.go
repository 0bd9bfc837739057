// Package api documents the NodeFlow HTTP API.
//
// # API Overview
//
// NodeFlow serves a JSON API for storing and running workflow graphs:
//   - Workflow definitions: list, get, create, replace, delete, validate
//   - Runs: synchronous run of a stored workflow or an inline graph
//   - Run history: per-workflow listing and per-run node records
//   - Node catalog: registered node types with their ports and defaults
//   - Live runs: a WebSocket stream of observer events
//   - Health, readiness, version and Prometheus metrics
//
// # Routes
//
//	GET    /api/v1/workflows
//	POST   /api/v1/workflows
//	POST   /api/v1/workflows/validate
//	GET    /api/v1/workflows/{id}
//	PUT    /api/v1/workflows/{id}
//	DELETE /api/v1/workflows/{id}
//	POST   /api/v1/workflows/{id}/run
//	GET    /api/v1/workflows/{id}/runs?limit=50
//	GET    /api/v1/workflows/{id}/stream   (WebSocket)
//	POST   /api/v1/run
//	GET    /api/v1/runs/{runID}
//	GET    /api/v1/nodes
//	GET    /health, /healthz, /ready, /readyz, /version, /metrics
//
// Every JSON response uses the envelope
//
//	{"success": true, "data": ..., "timestamp": "...", "request_id": "..."}
//
// and failures carry {"error": {"code": "...", "message": "..."}}.
//
// # Authentication
//
// When server.jwt_secret is set, /api/v1 routes require an HS256 bearer token:
//
//	Authorization: Bearer <token>
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
package api
