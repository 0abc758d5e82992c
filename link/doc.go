// Package link connects an application to a coordinator over serial or TCP.
//
// A Link owns one connection handle at a time and four execution units built on it:
//
//   - writer: takes a gate permit, dequeues the highest priority command, tracks it as in
//     flight and writes it.
//   - reader: polls the connection, feeds the frame decoder and resolves in-flight commands
//     from status and response frames.
//   - forwarder: hands decoded frames to the application FrameHandler, so a slow handler
//     never stalls the reader.
//   - ack sweep: expires commands whose ack did not arrive within the ack timeout.
//
// Lifecycle:
//
//	Closed → Opening → Open → Reconnecting → Opening → Open ...
//	Open/Reconnecting → ShuttingDown → Closed
//
// A transport fault seen by the writer or the reader, or too many ack timeouts in a row,
// moves an open link to Reconnecting: the units are stopped, the handle is released, and
// after the settle delay a new handle is connected. Queued commands survive a reconnect;
// in-flight commands are dropped and their permits returned. Close stops accepting
// commands, wakes every unit, discards queued commands and waits a bounded time for the
// units to terminate.
//
// Error records are logged with a Diagnostics snapshot under the "context" key.
package link
