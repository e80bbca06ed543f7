// Package api provides the HTTP REST API and WebSocket push channel for
// the habitat gateway.
//
// Routes live under /api/v1 (see router.go). Prometheus metrics are
// served at /metrics. When api.auth.jwt_secret is set, every route except
// health and metrics needs a bearer token; mutating routes need the
// operator role.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
