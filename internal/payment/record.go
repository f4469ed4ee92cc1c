package payment

import (
	"encoding/json"
	"time"

	"github.com/roach88/paywatch/internal/ledger"
	"github.com/roach88/paywatch/internal/money"
)

// Status is the reconciliation state of a payment record.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
	StatusTimeout   Status = "TIMEOUT"
)

// Terminal reports whether s is a sink of the state machine.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed || s == StatusTimeout
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// DefaultTimeoutMinutes is the payment window when the caller gives none.
const DefaultTimeoutMinutes = 30

// Record is one payment awaiting or having reached reconciliation.
// Records are never deleted; terminal records are the audit trail.
type Record struct {
	ID                 string
	OrderID            string
	BuyerID            string
	Amount             money.Amount
	Currency           money.Currency
	DestinationAddress string
	Status             Status
	TimeoutMinutes     int
	CreatedAt          time.Time
	// ExpiresAt is CreatedAt + TimeoutMinutes, fixed at creation.
	ExpiresAt time.Time

	// ConfirmedAt is set with StatusConfirmed, FailedAt with
	// StatusFailed and StatusTimeout. Never both.
	ConfirmedAt *time.Time
	FailedAt    *time.Time

	Evidence      *Evidence
	FailureReason string
}

// Evidence is what the ledger showed when a payment was confirmed.
type Evidence struct {
	TransactionID  string
	SourceAddress  string
	Confirmations  int
	RawTransaction json.RawMessage
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Amount = money.FromBigInt(r.Amount.Minor())
	if r.ConfirmedAt != nil {
		t := *r.ConfirmedAt
		c.ConfirmedAt = &t
	}
	if r.FailedAt != nil {
		t := *r.FailedAt
		c.FailedAt = &t
	}
	if r.Evidence != nil {
		ev := *r.Evidence
		ev.RawTransaction = append(json.RawMessage(nil), r.Evidence.RawTransaction...)
		c.Evidence = &ev
	}
	return &c
}

// Expired reports whether the payment window has closed at now.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Window is the payment window as a duration.
func (r *Record) Window() time.Duration {
	return time.Duration(r.TimeoutMinutes) * time.Minute
}

func (r *Record) markConfirmed(ev Evidence, at time.Time) {
	r.Status = StatusConfirmed
	r.Evidence = &ev
	r.ConfirmedAt = &at
	r.FailedAt = nil
	r.FailureReason = ""
}

func (r *Record) markFailed(status Status, reason string, at time.Time) {
	r.Status = status
	r.FailedAt = &at
	r.ConfirmedAt = nil
	r.FailureReason = reason
}

// Candidate is one observed transfer offered as proof of payment. It
// comes from a stream operation or from an operator.
type Candidate struct {
	TransactionID string          `json:"transaction_id"`
	Source        string          `json:"source"`
	Destination   string          `json:"destination"`
	Amount        string          `json:"amount"`
	AssetCode     string          `json:"asset_code,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Confirmations int             `json:"confirmations,omitempty"`
	Raw           json.RawMessage `json:"raw,omitempty"`
}

// CandidateFromOperation builds the candidate for one payment-shaped
// operation of tx.
func CandidateFromOperation(tx ledger.Transaction, op ledger.Operation) Candidate {
	source := op.From
	if source == "" {
		source = tx.Source
	}
	ts := op.CreatedAt
	if ts.IsZero() {
		ts = tx.CreatedAt
	}
	confirmations := 0
	if tx.Ledger > 0 {
		// Closed ledgers are final on this network.
		confirmations = 1
	}
	return Candidate{
		TransactionID: tx.ID,
		Source:        source,
		Destination:   op.To,
		Amount:        op.Amount,
		AssetCode:     op.AssetCode,
		Timestamp:     ts,
		Confirmations: confirmations,
		Raw:           tx.Raw,
	}
}

func (c Candidate) evidence() Evidence {
	raw := c.Raw
	if len(raw) == 0 {
		raw, _ = json.Marshal(c)
	}
	return Evidence{
		TransactionID:  c.TransactionID,
		SourceAddress:  c.Source,
		Confirmations:  c.Confirmations,
		RawTransaction: append(json.RawMessage(nil), raw...),
	}
}
