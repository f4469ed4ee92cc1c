// Package store provides SQLite-backed durable storage for paywatch.
//
// Tables:
//   - payments: payment records, the source of truth for status
//   - orders: the order book consulted at initiation and marked paid
//     on confirmation
//   - events: the outbox of emitted events, ordered by seq
//
// # Single-winner writes
//
// A payment leaves PENDING at most once even across processes sharing
// the database file:
//   - Save upserts with ON CONFLICT(id) DO UPDATE ... WHERE status =
//     'PENDING', so a second terminal write changes no row and reports
//     payment.ErrStaleWrite
//   - a partial unique index on payments(order_id) WHERE status =
//     'PENDING' rejects a second pending payment for one order with
//     payment.ErrDuplicatePending
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as fixed-width UTC text so lexical order is
// chronological order.
package store
