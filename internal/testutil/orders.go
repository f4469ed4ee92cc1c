package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
)

// Orders is an in-memory payment.Orders.
type Orders struct {
	mu       sync.Mutex
	terms    map[string]payment.OrderTerms
	paid     map[string][]string // order id -> payment ids, one per MarkPaid
	closed   map[string]bool
	markErr  error
	getCalls int
}

// NewOrders returns an empty order book.
func NewOrders() *Orders {
	return &Orders{
		terms:  make(map[string]payment.OrderTerms),
		paid:   make(map[string][]string),
		closed: make(map[string]bool),
	}
}

// Add registers a payable order.
func (o *Orders) Add(t payment.OrderTerms) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.terms[t.OrderID] = t
}

// AddSimple registers a payable order from display strings. Panics on
// a malformed amount.
func (o *Orders) AddSimple(orderID, buyerID, amount string, c money.Currency, destination string) {
	o.Add(payment.OrderTerms{
		OrderID:            orderID,
		BuyerID:            buyerID,
		Amount:             money.MustParse(amount, c),
		Currency:           c,
		DestinationAddress: destination,
	})
}

// Cancel makes an order unpayable.
func (o *Orders) Cancel(orderID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed[orderID] = true
}

// GetPayableOrder implements payment.Orders.
func (o *Orders) GetPayableOrder(_ context.Context, orderID string) (payment.OrderTerms, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.getCalls++
	t, ok := o.terms[orderID]
	if !ok {
		return payment.OrderTerms{}, &payment.Error{Code: payment.ErrCodeNotFound, Message: "order not found", OrderID: orderID}
	}
	if o.closed[orderID] || len(o.paid[orderID]) > 0 {
		return payment.OrderTerms{}, &payment.Error{Code: payment.ErrCodeInvalidOrderState, Message: "order is not awaiting payment", OrderID: orderID}
	}
	return t, nil
}

// MarkPaid implements payment.Orders.
func (o *Orders) MarkPaid(_ context.Context, orderID, paymentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.markErr != nil {
		err := o.markErr
		o.markErr = nil
		return fmt.Errorf("mark order %s paid: %w", orderID, err)
	}
	o.paid[orderID] = append(o.paid[orderID], paymentID)
	return nil
}

// FailNextMarkPaid makes the next MarkPaid return err.
func (o *Orders) FailNextMarkPaid(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.markErr = err
}

// Paid reports whether MarkPaid succeeded for the order.
func (o *Orders) Paid(orderID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.paid[orderID]) > 0
}

// MarkPaidCalls returns the payment ids MarkPaid was called with.
func (o *Orders) MarkPaidCalls(orderID string) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.paid[orderID]...)
}

var _ payment.Orders = (*Orders)(nil)
