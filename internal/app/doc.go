// Package app assembles the bridge from configuration: cache, hub client,
// state manager, trigger registry and dispatcher, job scheduler, router,
// streaming connection, activity log, optional mirrors, and the
// operational HTTP server.
//
// OpenCore builds only the cache-backed state layer, which is all the
// one-shot CLI commands need. New builds the full bridge; Run drives it
// until the context ends or the hub rejects the token.
package app
