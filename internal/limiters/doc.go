// Package limiters provides the shared countdowns that pace user-triggered
// backend calls across every tab of an origin.
//
// # Limiters
//
//   - [ResendCooldown]: per-email cooldown between verification resends,
//     stored as a Redis key whose PTTL is the remaining time.
//
// Methods are nil-safe: a nil limiter never blocks and never errors.
//
// # What this package must NOT do
//
//   - Import tabauth or any sibling internal package.
//   - Call the backend. Callers decide what a running cooldown means.
package limiters
