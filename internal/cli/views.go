package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/paywatch/internal/events"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/store"
	"github.com/roach88/paywatch/internal/watch"
)

// PaymentView is the printed form of a payment.
type PaymentView struct {
	ID             string     `json:"id"`
	OrderID        string     `json:"order_id"`
	BuyerID        string     `json:"buyer_id"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	Destination    string     `json:"destination"`
	Status         string     `json:"status"`
	TimeoutMinutes int        `json:"timeout_minutes"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
	FailedAt       *time.Time `json:"failed_at,omitempty"`
	TransactionID  string     `json:"transaction_id,omitempty"`
	Source         string     `json:"source,omitempty"`
	FailureReason  string     `json:"failure_reason,omitempty"`
}

func newPaymentView(rec *payment.Record) PaymentView {
	v := PaymentView{
		ID:             rec.ID,
		OrderID:        rec.OrderID,
		BuyerID:        rec.BuyerID,
		Amount:         rec.Amount.Format(rec.Currency),
		Currency:       string(rec.Currency),
		Destination:    rec.DestinationAddress,
		Status:         string(rec.Status),
		TimeoutMinutes: rec.TimeoutMinutes,
		CreatedAt:      rec.CreatedAt.UTC(),
		ExpiresAt:      rec.ExpiresAt.UTC(),
		ConfirmedAt:    rec.ConfirmedAt,
		FailedAt:       rec.FailedAt,
		FailureReason:  rec.FailureReason,
	}
	if rec.Evidence != nil {
		v.TransactionID = rec.Evidence.TransactionID
		v.Source = rec.Evidence.SourceAddress
	}
	return v
}

func (v PaymentView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Payment %s\n", v.ID)
	fmt.Fprintf(&b, "  order:       %s (buyer %s)\n", v.OrderID, v.BuyerID)
	fmt.Fprintf(&b, "  amount:      %s %s\n", v.Amount, v.Currency)
	fmt.Fprintf(&b, "  destination: %s\n", v.Destination)
	fmt.Fprintf(&b, "  status:      %s\n", v.Status)
	fmt.Fprintf(&b, "  expires:     %s\n", v.ExpiresAt.Format(time.RFC3339))
	if v.TransactionID != "" {
		fmt.Fprintf(&b, "  transaction: %s from %s\n", v.TransactionID, v.Source)
	}
	if v.FailureReason != "" {
		fmt.Fprintf(&b, "  reason:      %s\n", v.FailureReason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// OrderView is the printed form of an order.
type OrderView struct {
	ID          string `json:"id"`
	BuyerID     string `json:"buyer_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
	Status      string `json:"status"`
	PaymentID   string `json:"payment_id,omitempty"`
}

func newOrderView(o store.Order) OrderView {
	return OrderView{
		ID:          o.OrderID,
		BuyerID:     o.BuyerID,
		Amount:      o.Amount.Format(o.Currency),
		Currency:    string(o.Currency),
		Destination: o.DestinationAddress,
		Status:      string(o.Status),
		PaymentID:   o.PaymentID,
	}
}

func (v OrderView) String() string {
	s := fmt.Sprintf("Order %s: %s %s to %s (%s)", v.ID, v.Amount, v.Currency, v.Destination, v.Status)
	if v.PaymentID != "" {
		s += ", paid by " + v.PaymentID
	}
	return s
}

// StatsView is the printed form of buyer statistics.
type StatsView struct {
	payment.Stats
}

func (v StatsView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Buyer %s: %d payments\n", v.BuyerID, v.Total)
	fmt.Fprintf(&b, "  confirmed: %d\n", v.Confirmed)
	fmt.Fprintf(&b, "  pending:   %d\n", v.Pending)
	fmt.Fprintf(&b, "  failed:    %d\n", v.Failed)
	fmt.Fprintf(&b, "  timed out: %d\n", v.Timeout)
	for _, c := range v.Currencies() {
		fmt.Fprintf(&b, "  total %s: %s\n", c, v.TotalConfirmed[c])
	}
	return strings.TrimRight(b.String(), "\n")
}

// SweepView is the printed form of a sweep.
type SweepView struct {
	Scanned  int `json:"scanned"`
	Expired  int `json:"expired"`
	TimedOut int `json:"timed_out"`
	Adopted  int `json:"adopted"`
	Errors   int `json:"errors"`
}

func newSweepView(r watch.SweepResult) SweepView {
	return SweepView{Scanned: r.Scanned, Expired: r.Expired, TimedOut: r.TimedOut, Adopted: r.Adopted, Errors: r.Errors}
}

func (v SweepView) String() string {
	return fmt.Sprintf("Swept %d pending payments: %d expired, %d timed out, %d adopted, %d errors",
		v.Scanned, v.Expired, v.TimedOut, v.Adopted, v.Errors)
}

// EventList is the printed form of outbox events.
type EventList []events.Event

func (l EventList) String() string {
	if len(l) == 0 {
		return "No events."
	}
	var b strings.Builder
	for _, e := range l {
		fmt.Fprintf(&b, "%6d  %s  %-20s  %s\n", e.Seq, e.At.Format(time.RFC3339), e.Name, e.PaymentID)
	}
	return strings.TrimRight(b.String(), "\n")
}
