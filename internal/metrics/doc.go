// Package metrics provides lock-free counters and one latency histogram for
// tabauth observability.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The auto-login latency histogram uses 8 fixed buckets
// (≤50ms … +Inf). Both are allocation-free on the write path, and every
// method is safe on a nil receiver so components can run unmetered.
//
// # Architecture boundaries
//
// This package owns metric storage and snapshot creation. Metric export
// (Prometheus, OTel) lives in metrics/export/ and reads Snapshot values through
// the root package.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import tabauth or any sibling package.
//   - Expose global metric registries.
package metrics
