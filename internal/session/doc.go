// Package session owns the per-tab signed-in state and its refresh timer.
//
// # State machine
//
//	anonymous -> authenticating -> authenticated -> refreshing -> authenticated
//	                    |                                 |
//	                    +-> anonymous                     +-> anonymous
//
// A tab holds at most one refresh timer. Each timer captures the generation
// current when it was armed; any transition that cancels it bumps the
// generation, so a timer that fires late does nothing.
//
// # What this package must NOT do
//
//   - Retry a failed refresh.
//   - Touch the refresh cookie directly.
package session
