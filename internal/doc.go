// Package internal holds the building blocks of a tab client. Nothing here is
// part of the public tabauth API.
//
// # Sub-packages
//
//   - api: REST client for the account backend
//   - audit: asynchronous lifecycle event dispatch
//   - autologin: turns a verification event into a sign-in
//   - bus: cross-tab event delivery over Redis Pub/Sub and a shared stream
//   - limiters: shared resend cooldown
//   - metrics: lock-free counters and the auto-login latency histogram
//   - poller: backend verification status polling
//   - session: principal, session state and proactive renewal
//   - stores: pending-credential vault and consumption claims
package internal
