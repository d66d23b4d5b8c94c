// Package api implements the read-only ops HTTP surface of vendorsync.
//
// This package provides:
//   - GET /api/v1/health: dependency checks and push channel phases
//   - GET /api/v1/metrics: Prometheus exposition
//   - GET /api/v1/push-channels and /api/v1/push-channels/{server}
//   - Middleware stack (request ID, logging, recovery)
//
// The server follows the same lifecycle pattern as the infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Graceful Degradation
//
// Health answers 503 with status "degraded" when a dependency check fails
// or a push channel has given up reconnecting. Metrics and channel state
// stay available either way.
package api
