// Package audit relays tab lifecycle events (sign-in, refresh, verification,
// auto-login) to a pluggable sink without blocking the caller.
//
// # Components
//
//   - [Sink]: event consumer. [NoOpSink], [ChannelSink], [JSONWriterSink]
//     and [LogSink] are provided.
//   - [Dispatcher]: buffered relay with drop-if-full or block-if-full
//     semantics. It stamps the tab id, strips credential-like metadata keys
//     and counts events dropped on a full buffer or lost to a panicking sink.
//
// # What this package must NOT do
//
//   - Decide which events to emit.
//   - Carry passwords or tokens in events.
//   - Import tabauth or any sibling internal package.
package audit
