package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/paywatch/internal/canonical"
	"github.com/roach88/paywatch/internal/events"
)

// AppendEvent writes e to the outbox. Re-appending an event with the
// same id is a no-op. Implements events.Sink through Deliver.
func (s *Store) AppendEvent(ctx context.Context, e events.Event) error {
	payload, err := canonical.Marshal(e.Payload)
	if err != nil {
		// Non-canonical payloads are still kept for the audit trail.
		payload, err = json.Marshal(e.Payload)
		if err != nil {
			return fmt.Errorf("append event %d: marshal payload: %w", e.Seq, err)
		}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO events (seq, id, name, payment_id, order_id, at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, e.Seq, e.ID, e.Name, nullString(e.PaymentID), nullString(e.OrderID), formatTime(e.At), string(payload))
	if err != nil {
		return fmt.Errorf("append event %d: %w", e.Seq, err)
	}
	return nil
}

// Deliver implements events.Sink.
func (s *Store) Deliver(ctx context.Context, e events.Event) error {
	return s.AppendEvent(ctx, e)
}

// EventFilter narrows ListEvents.
type EventFilter struct {
	PaymentID string
	Name      string
	// AfterSeq returns only events with a greater seq.
	AfterSeq int64
	// Limit caps the result; 0 means no limit.
	Limit int
}

// ListEvents returns outbox events in seq order.
func (s *Store) ListEvents(ctx context.Context, f EventFilter) ([]events.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.PaymentID != "" {
		where = append(where, "payment_id = ?")
		args = append(args, f.PaymentID)
	}
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.AfterSeq > 0 {
		where = append(where, "seq > ?")
		args = append(args, f.AfterSeq)
	}

	query := `SELECT seq, id, name, payment_id, order_id, at, payload FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []events.Event{}
	for rows.Next() {
		var (
			e                  events.Event
			paymentID, orderID sql.NullString
			at, payload        string
		)
		if err := rows.Scan(&e.Seq, &e.ID, &e.Name, &paymentID, &orderID, &at, &payload); err != nil {
			return nil, fmt.Errorf("list events: scan: %w", err)
		}
		e.PaymentID = paymentID.String
		e.OrderID = orderID.String
		if e.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("list events: %w", err)
		}
		if e.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, fmt.Errorf("list events: seq %d: %w", e.Seq, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: iterate: %w", err)
	}
	return out, nil
}

// MaxEventSeq returns the highest seq in the outbox, 0 when empty.
// A restarted bus resumes its sequence from here.
func (s *Store) MaxEventSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("max event seq: %w", err)
	}
	return seq, nil
}

var _ events.Sink = (*Store)(nil)
