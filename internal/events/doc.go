// Package events is the engine's best-effort side channel.
//
// Payment transitions are announced with Emit, which never blocks on
// delivery and never fails the caller. Each event is stamped with a
// logical sequence number and a content-addressed id, queued, and
// handed to the configured sinks (the SQLite outbox, the log) by the
// bus's Run loop. A sink failure is logged and the event moves on;
// committed payment state is never affected.
package events
