// Package storage persists watcher state: processed-event keys per
// repository, latest version marks per package, the tracked-resource
// registry and an operator audit log.
//
// Drivers:
//   - "file":   plain files under a data directory (default)
//   - "sqlite": a single SQLite database (modernc, via sqlx)
//   - "memory": process-local, for tests and dry runs
package storage
