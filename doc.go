// Package tabauth keeps every tab of one origin in agreement about who is
// signed in, and signs a tab in by itself once the email it registered or
// logged in with is verified, even when the verification link was opened in
// a different tab.
//
// A tab is a [Client] built with [New]. Tabs of one origin share a Redis
// instance; the origin name prefixes every key and channel they use:
//
//	<origin>:vault:pending     pending credential (single slot, TTL)
//	<origin>:bus               Pub/Sub channel for verification events
//	<origin>:bus:events        self-expiring stream of recent events
//	<origin>:claim:<email>     optional exclusive-consumption claim
//	<origin>:cooldown:<email>  resend countdown
//
// # Flow
//
// Login or Register answered with "verification required" parks the
// credential and starts waiting. ConfirmVerification in any tab (or the
// waiting tab's own poller) produces one verification event; each tab
// waiting on that email whose parked credential matches signs in, clears the vault and stops
// polling. A failed sign-in is reported through the auto-login handler and
// never retried.
//
// # Architecture boundaries
//
// tabauth is the public surface. It exposes [Client], [Builder], [Config]
// and value types. The REST client, shared stores, bus, poller, session
// manager and orchestrator live under internal/.
//
// # What this package must NOT do
//
//   - Expose the parked password or the access token in its API, logs or
//     audit events.
//   - Read the HTTP-only refresh cookie.
//   - Close the caller's Redis client.
package tabauth
