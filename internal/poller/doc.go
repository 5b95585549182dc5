// Package poller asks the backend whether an email is verified until it is,
// for tabs that may have missed the bus event.
//
// Queries run at once and then on a fixed interval paced by a token-bucket
// limiter with burst 1. Query errors are logged and the loop continues. A
// verified answer is turned into the same bus.Event the bus delivers, handed
// to the caller once, and the loop ends.
package poller
