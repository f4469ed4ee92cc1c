// Package ledger defines the engine's view of the external settlement
// network: transactions observed for an account, the payment-shaped
// operations inside them, and the subscription capability used to
// watch a destination address.
//
// The engine never submits anything to the network. Implementations:
//   - horizon: HTTP client streaming a Horizon-compatible server
//   - memledger: in-memory network for tests and scenarios
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Transaction is one ledger transaction delivered by a subscription.
type Transaction struct {
	ID          string          `json:"hash"`
	Source      string          `json:"source_account"`
	Ledger      int64           `json:"ledger"`
	CreatedAt   time.Time       `json:"created_at"`
	Successful  bool            `json:"successful"`
	PagingToken string          `json:"paging_token,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Operation types that move value to a destination account.
const (
	OpPayment                  = "payment"
	OpPathPaymentStrictReceive = "path_payment_strict_receive"
	OpPathPaymentStrictSend    = "path_payment_strict_send"
)

// AssetTypeNative marks operations paying the network's native asset.
const AssetTypeNative = "native"

// Operation is one operation of a transaction.
type Operation struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	TransactionID string    `json:"transaction_hash"`
	From          string    `json:"from"`
	To            string    `json:"to"`
	Amount        string    `json:"amount"`
	AssetType     string    `json:"asset_type"`
	AssetCode     string    `json:"asset_code,omitempty"`
	AssetIssuer   string    `json:"asset_issuer,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// IsPayment reports whether the operation transfers value to To.
func (o Operation) IsPayment() bool {
	switch o.Type {
	case OpPayment, OpPathPaymentStrictReceive, OpPathPaymentStrictSend:
		return true
	}
	return false
}

// PaymentOperations filters ops down to payment-shaped operations,
// preserving order.
func PaymentOperations(ops []Operation) []Operation {
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if op.IsPayment() {
			out = append(out, op)
		}
	}
	return out
}

// Handler receives subscription callbacks. Calls for one subscription
// are serialized; calls for different subscriptions may run
// concurrently.
type Handler interface {
	HandleTransaction(ctx context.Context, tx Transaction)
	HandleError(err error)
}

// Subscription is the cancel handle of an open subscription. Close is
// cooperative: a few in-flight transactions may still be delivered
// after it returns.
type Subscription interface {
	Close() error
}

// Client is the capability the engine consumes from the network.
type Client interface {
	// Subscribe opens a feed of transactions touching address.
	Subscribe(ctx context.Context, address string, h Handler) (Subscription, error)

	// FetchOperations returns the operations of tx in ledger order.
	FetchOperations(ctx context.Context, tx Transaction) ([]Operation, error)
}

// TransientError wraps a network failure that may succeed on retry.
type TransientError struct {
	Op      string
	Address string
	Err     error
}

func (e *TransientError) Error() string {
	if e.Address != "" {
		return fmt.Sprintf("ledger %s %s: %v", e.Op, e.Address, e.Err)
	}
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// SubscriptionFunc adapts a function to Subscription.
type SubscriptionFunc func() error

// Close calls f.
func (f SubscriptionFunc) Close() error { return f() }
