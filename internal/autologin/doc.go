// Package autologin signs a waiting tab in once its email is verified,
// whichever tab or path reported the verification.
//
// # State machine
//
//	idle -> waiting -> consumed_success | consumed_failure
//
// Begin parks the credential in the shared vault, sets the waiting flag and
// starts a poller. Events from the bus and the poller arrive at Handle, which
// ignores them unless the tab is waiting on that very email, drops repeats of
// an event already acted on, and only signs in when the vaulted email matches
// the verified one (case-insensitively). A failed sign-in is reported, never
// retried. A sign-in that completes after the wait was cancelled is revoked.
//
// With a Claimer configured, a tab must win a per-email claim before it may
// consume the credential, so exactly one tab signs in.
//
// # What this package must NOT do
//
//   - Guess at an identity other than the one in the vault.
//   - Clear the vault when the event did not match.
package autologin
