package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
)

// OrderStatus is the payment state of an order.
type OrderStatus string

const (
	OrderAwaitingPayment OrderStatus = "AWAITING_PAYMENT"
	OrderPaid            OrderStatus = "PAID"
	OrderCancelled       OrderStatus = "CANCELLED"
)

// ErrOrderExists is returned by AddOrder for a duplicate id.
var ErrOrderExists = errors.New("order already exists")

// Order is a row of the order book.
type Order struct {
	payment.OrderTerms
	Status    OrderStatus
	PaymentID string
}

// AddOrder registers an order awaiting payment.
func (s *Store) AddOrder(ctx context.Context, t payment.OrderTerms) error {
	if t.OrderID == "" {
		return fmt.Errorf("add order: id is required")
	}
	if !t.Currency.Valid() {
		return fmt.Errorf("add order %s: %w: %q", t.OrderID, money.ErrUnsupportedCurrency, t.Currency)
	}
	if t.Amount.Sign() <= 0 {
		return fmt.Errorf("add order %s: amount must be positive", t.OrderID)
	}

	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO orders (id, buyer_id, amount_minor, currency, destination, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 'AWAITING_PAYMENT', ?, ?)
	`, t.OrderID, t.BuyerID, t.Amount.MinorString(), string(t.Currency), t.DestinationAddress, now, now)
	if err != nil {
		if isUniqueViolation(err) || isPrimaryKeyViolation(err) {
			return fmt.Errorf("add order %s: %w", t.OrderID, ErrOrderExists)
		}
		return fmt.Errorf("add order %s: %w", t.OrderID, err)
	}
	return nil
}

// GetOrder loads an order in any status.
func (s *Store) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var (
		o                        Order
		amount, currency, status string
		paymentID                sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, amount_minor, currency, destination, status, payment_id
		FROM orders WHERE id = ?
	`, orderID).Scan(&o.OrderID, &o.BuyerID, &amount, &currency, &o.DestinationAddress, &status, &paymentID)
	if errors.Is(err, sql.ErrNoRows) {
		return Order{}, &payment.Error{Code: payment.ErrCodeNotFound, Message: "order not found", OrderID: orderID}
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if o.Amount, err = money.ParseMinor(amount); err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	o.Currency = money.Currency(currency)
	o.Status = OrderStatus(status)
	o.PaymentID = paymentID.String
	return o, nil
}

// GetPayableOrder implements payment.Orders.
func (s *Store) GetPayableOrder(ctx context.Context, orderID string) (payment.OrderTerms, error) {
	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return payment.OrderTerms{}, err
	}
	if o.Status != OrderAwaitingPayment {
		return payment.OrderTerms{}, &payment.Error{
			Code:    payment.ErrCodeInvalidOrderState,
			Message: fmt.Sprintf("order is %s", o.Status),
			OrderID: orderID,
		}
	}
	return o.OrderTerms, nil
}

// MarkPaid implements payment.Orders. Marking an order paid again by
// the same payment is a no-op.
func (s *Store) MarkPaid(ctx context.Context, orderID, paymentID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = 'PAID', payment_id = ?, updated_at = ?
		WHERE id = ? AND status = 'AWAITING_PAYMENT'
	`, paymentID, s.now(), orderID)
	if err != nil {
		return fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark order %s paid: rows affected: %w", orderID, err)
	}
	if n == 1 {
		return nil
	}

	o, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	if o.Status == OrderPaid && o.PaymentID == paymentID {
		return nil
	}
	return fmt.Errorf("mark order %s paid: order is %s", orderID, o.Status)
}

// CancelOrder moves an unpaid order to CANCELLED.
func (s *Store) CancelOrder(ctx context.Context, orderID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders SET status = 'CANCELLED', updated_at = ?
		WHERE id = ? AND status = 'AWAITING_PAYMENT'
	`, s.now(), orderID)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		o, err := s.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		return fmt.Errorf("cancel order %s: order is %s", orderID, o.Status)
	}
	return nil
}

var _ payment.Orders = (*Store)(nil)
