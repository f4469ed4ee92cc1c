package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/paywatch/internal/canonical"
	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
)

const paymentColumns = `id, order_id, buyer_id, amount_minor, currency, destination, status,
	timeout_minutes, created_at, expires_at, confirmed_at, failed_at,
	evidence_tx, evidence_source, evidence_confirmations, evidence_raw, failure_reason`

// FindByID loads one payment. Wraps payment.ErrNotFound when missing.
func (s *Store) FindByID(ctx context.Context, id string) (*payment.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find payment %s: %w", id, payment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find payment %s: %w", id, err)
	}
	return rec, nil
}

// FindByOrderID loads the most recently created payment of an order.
func (s *Store) FindByOrderID(ctx context.Context, orderID string) (*payment.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, orderID)
	rec, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find payment for order %s: %w", orderID, payment.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find payment for order %s: %w", orderID, err)
	}
	return rec, nil
}

// FindPending returns every PENDING payment, soonest expiry first.
func (s *Store) FindPending(ctx context.Context) ([]*payment.Record, error) {
	return s.queryPayments(ctx, "find pending payments", `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = 'PENDING'
		ORDER BY expires_at ASC, id COLLATE BINARY ASC
	`)
}

// FindByBuyer returns a buyer's payments in creation order.
func (s *Store) FindByBuyer(ctx context.Context, buyerID string) ([]*payment.Record, error) {
	return s.queryPayments(ctx, "find payments by buyer", `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE buyer_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, buyerID)
}

// Save inserts rec or updates the stored row.
//
// The update only applies while the stored row is PENDING; otherwise
// no row changes and Save returns payment.ErrStaleWrite. Inserting a
// PENDING payment for an order that already has one returns
// payment.ErrDuplicatePending.
func (s *Store) Save(ctx context.Context, rec *payment.Record) error {
	var (
		evTx, evSource, evRaw, evDigest sql.NullString
		evConfirmations                 sql.NullInt64
	)
	if ev := rec.Evidence; ev != nil {
		evTx = nullString(ev.TransactionID)
		evSource = nullString(ev.SourceAddress)
		evConfirmations = sql.NullInt64{Int64: int64(ev.Confirmations), Valid: true}
		if len(ev.RawTransaction) > 0 {
			evRaw = sql.NullString{String: string(ev.RawTransaction), Valid: true}
			evDigest = sql.NullString{String: canonical.Digest(canonical.DomainEvidence, ev.RawTransaction), Valid: true}
		}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO payments
		(id, order_id, buyer_id, amount_minor, currency, destination, status,
		 timeout_minutes, created_at, expires_at, confirmed_at, failed_at,
		 evidence_tx, evidence_source, evidence_confirmations, evidence_raw, evidence_digest,
		 failure_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			confirmed_at = excluded.confirmed_at,
			failed_at = excluded.failed_at,
			evidence_tx = excluded.evidence_tx,
			evidence_source = excluded.evidence_source,
			evidence_confirmations = excluded.evidence_confirmations,
			evidence_raw = excluded.evidence_raw,
			evidence_digest = excluded.evidence_digest,
			failure_reason = excluded.failure_reason
		WHERE payments.status = 'PENDING'
	`,
		rec.ID,
		rec.OrderID,
		rec.BuyerID,
		rec.Amount.MinorString(),
		string(rec.Currency),
		rec.DestinationAddress,
		string(rec.Status),
		rec.TimeoutMinutes,
		formatTime(rec.CreatedAt),
		formatTime(rec.ExpiresAt),
		formatNullTime(rec.ConfirmedAt),
		formatNullTime(rec.FailedAt),
		evTx,
		evSource,
		evConfirmations,
		evRaw,
		evDigest,
		rec.FailureReason,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save payment %s: %w", rec.ID, payment.ErrDuplicatePending)
		}
		return fmt.Errorf("save payment %s: %w", rec.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save payment %s: rows affected: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("save payment %s: %w", rec.ID, payment.ErrStaleWrite)
	}
	return nil
}

// EvidenceDigest returns the stored digest of a payment's raw
// evidence, or "" if it has none.
func (s *Store) EvidenceDigest(ctx context.Context, id string) (string, error) {
	var digest sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT evidence_digest FROM payments WHERE id = ?`, id).Scan(&digest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("evidence digest %s: %w", id, payment.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("evidence digest %s: %w", id, err)
	}
	return digest.String, nil
}

func (s *Store) queryPayments(ctx context.Context, op, query string, args ...any) ([]*payment.Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	out := []*payment.Record{}
	for rows.Next() {
		rec, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return out, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPayment(sc scanner) (*payment.Record, error) {
	var (
		rec                      payment.Record
		amount, currency, status string
		createdAt, expiresAt     string
		confirmedAt, failedAt    sql.NullString
		evTx, evSource, evRaw    sql.NullString
		evConfirmations          sql.NullInt64
	)
	if err := sc.Scan(
		&rec.ID,
		&rec.OrderID,
		&rec.BuyerID,
		&amount,
		&currency,
		&rec.DestinationAddress,
		&status,
		&rec.TimeoutMinutes,
		&createdAt,
		&expiresAt,
		&confirmedAt,
		&failedAt,
		&evTx,
		&evSource,
		&evConfirmations,
		&evRaw,
		&rec.FailureReason,
	); err != nil {
		return nil, err
	}

	var err error
	if rec.Amount, err = money.ParseMinor(amount); err != nil {
		return nil, fmt.Errorf("payment %s amount: %w", rec.ID, err)
	}
	rec.Currency = money.Currency(currency)
	rec.Status = payment.Status(status)
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if rec.ConfirmedAt, err = parseNullTime(confirmedAt); err != nil {
		return nil, err
	}
	if rec.FailedAt, err = parseNullTime(failedAt); err != nil {
		return nil, err
	}
	if evTx.Valid {
		rec.Evidence = &payment.Evidence{
			TransactionID: evTx.String,
			SourceAddress: evSource.String,
			Confirmations: int(evConfirmations.Int64),
		}
		if evRaw.Valid {
			rec.Evidence.RawTransaction = []byte(evRaw.String)
		}
	}
	return &rec, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique
}

func isPrimaryKeyViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

var _ payment.Store = (*Store)(nil)
