// Package api is the REST client for the account backend: login, registration,
// logout, refresh, the current user, and the email-verification endpoints.
//
// # Error model
//
// The backend answers failures with {"error":{"code","message","retryAfter"}}.
// Codes map onto sentinel errors (ErrInvalidCredentials,
// ErrVerificationRequired, ErrAlreadyVerified, ErrUnauthorized) and
// *CooldownError; when the code is missing the HTTP status decides. Transport
// failures and 5xx answers become ErrUnavailable, the only kind a poller
// retries.
//
// # What this package must NOT do
//
//   - Read or write the refresh cookie; the cookie jar owns it.
//   - Retry requests. Retry policy belongs to the callers.
//   - Import tabauth or any sibling internal package.
package api
