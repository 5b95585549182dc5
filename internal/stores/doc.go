// Package stores provides the Redis-backed shared slots a group of tabs on
// one origin cooperates through: the pending-credential vault and the
// per-email consumption claim.
//
// # Design
//
// Every slot is a single Redis key under the origin's prefix. The vault is
// last-writer-wins JSON, optionally sealed with XChaCha20-Poly1305, and
// carries a TTL so an abandoned credential does not outlive the wait. Claims
// are SET NX PX leases released by an owner-checked Lua script.
//
// Values that fail to decode are reported as absent. Only Redis failures
// surface as errors, wrapped in [ErrStoreUnavailable].
//
// # Architecture boundaries
//
// This package owns persistence only. It does not decide when a credential
// is parked or consumed; that belongs to internal/autologin and
// internal/session.
//
// # What this package must NOT do
//
//   - Import tabauth or any sibling internal package.
//   - Log or expose the parked password.
package stores
