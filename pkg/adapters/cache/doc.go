// Package cache provides keyed blob storage for dependency caches and
// build artifacts.
//
// Lookup misses are reported as ports.ErrNotFound and are not failures:
// the dependent step degrades to a full, uncached execution. Entries carry
// a retention TTL measured in days; the store is append-mostly and has no
// eviction beyond expiry.
//
// Implementations:
//   - redis: Redis with per-entry TTL
//   - memory: In-memory with expiry timestamps, for testing
package cache
