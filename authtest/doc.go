// Package authtest provides an in-memory account backend for exercising tab
// clients without a real server.
//
// The backend implements login with verification gating, registration,
// cookie based refresh, the principal endpoint and the email verification
// routes, including a per-address resend cooldown. Test controls such as
// MarkVerified and FailStatusChecks let callers script what another device
// or a flaky network would do.
package authtest
