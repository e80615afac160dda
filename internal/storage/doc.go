// Package storage is maintwatch's durable record layer.
//
// Store is a namespaced blob store with interchangeable drivers:
//   - "file":   journal + snapshot files next to storage.path (default)
//   - "sqlite": single-table SQLite database (modernc, no cgo)
//   - "redis":  keys under a configurable prefix
//   - "memory": process-local, for tests and dry runs
//
// Typed repositories (ListRepo, ObjectRepo) sit on top and own the on-disk
// schema: every document is versioned, and legacy or partially corrupt
// records are migrated or skipped item by item instead of failing the load.
package storage
