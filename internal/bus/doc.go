// Package bus delivers email-verification events to every tab of an origin.
//
// # Delivery paths
//
//   - Channel: Redis Pub/Sub on the origin's bus channel. Messages carry the
//     publisher's tab id and are not delivered back to it.
//   - Stream: the event JSON is also appended to a capped Redis Stream that
//     expires EventTTL after the last append. Each bus reads every entry
//     newer than the last id it has seen, so back-to-back publishes are
//     each delivered; the publisher observes its own event this way.
//
// One publish can therefore arrive twice. De-duplication by [Event.Key] is
// the subscriber's job.
//
// # What this package must NOT do
//
//   - Interpret events beyond decoding them.
//   - Import tabauth or any sibling internal package other than metrics.
package bus
