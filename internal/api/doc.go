// Package api serves the bridge's operational HTTP surface: health,
// Prometheus metrics, and read-only debug views of the trigger registry,
// connection statistics, and the activity log. With api.jwt_secret set,
// the /debug routes require a bearer token issued by internal/auth.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
