// Package memledger is an in-memory ledger network for tests, the
// scenario harness and local demos.
//
// Submit records a transaction and delivers it synchronously to every
// open subscription whose address is the destination of one of its
// operations. Delivery runs on the caller's goroutine, so tests that
// need concurrent delivery submit from several goroutines.
package memledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/paywatch/internal/ledger"
)

// Network is a fake ledger. The zero value is not usable; call New.
type Network struct {
	mu         sync.Mutex
	subs       map[string]map[int]*subscription // address -> id -> sub
	nextID     int
	txs        map[string][]ledger.Operation
	subscribes map[string]int

	subscribeErr error
	fetchErr     error
}

type subscription struct {
	id      int
	address string
	handler ledger.Handler
	ctx     context.Context

	// deliverMu serializes callbacks for one subscription.
	deliverMu sync.Mutex
}

// New returns an empty network.
func New() *Network {
	return &Network{
		subs:       make(map[string]map[int]*subscription),
		txs:        make(map[string][]ledger.Operation),
		subscribes: make(map[string]int),
	}
}

// Subscribe implements ledger.Client.
func (n *Network) Subscribe(ctx context.Context, address string, h ledger.Handler) (ledger.Subscription, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.subscribes[address]++
	if n.subscribeErr != nil {
		err := n.subscribeErr
		n.subscribeErr = nil
		return nil, &ledger.TransientError{Op: "subscribe", Address: address, Err: err}
	}

	n.nextID++
	sub := &subscription{id: n.nextID, address: address, handler: h, ctx: context.WithoutCancel(ctx)}
	if n.subs[address] == nil {
		n.subs[address] = make(map[int]*subscription)
	}
	n.subs[address][sub.id] = sub

	return ledger.SubscriptionFunc(func() error {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[address], sub.id)
		if len(n.subs[address]) == 0 {
			delete(n.subs, address)
		}
		return nil
	}), nil
}

// FetchOperations implements ledger.Client.
func (n *Network) FetchOperations(_ context.Context, tx ledger.Transaction) ([]ledger.Operation, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.fetchErr != nil {
		err := n.fetchErr
		n.fetchErr = nil
		return nil, &ledger.TransientError{Op: "fetch operations", Err: err}
	}
	ops, ok := n.txs[tx.ID]
	if !ok {
		return nil, &ledger.TransientError{Op: "fetch operations", Err: fmt.Errorf("transaction %s not found", tx.ID)}
	}
	return append([]ledger.Operation(nil), ops...), nil
}

// Submit records tx with ops and delivers it to subscribers of every
// destination address. Operation transaction ids and timestamps are
// filled from tx when empty. Returns the number of deliveries.
func (n *Network) Submit(tx ledger.Transaction, ops ...ledger.Operation) int {
	for i := range ops {
		if ops[i].TransactionID == "" {
			ops[i].TransactionID = tx.ID
		}
		if ops[i].CreatedAt.IsZero() {
			ops[i].CreatedAt = tx.CreatedAt
		}
		if ops[i].ID == "" {
			ops[i].ID = fmt.Sprintf("%s-%d", tx.ID, i+1)
		}
	}
	if tx.Raw == nil {
		raw, _ := json.Marshal(struct {
			ledger.Transaction
			Operations []ledger.Operation `json:"operations"`
		}{tx, ops})
		tx.Raw = raw
	}

	n.mu.Lock()
	n.txs[tx.ID] = ops
	targets := n.targetsLocked(ops)
	n.mu.Unlock()

	for _, sub := range targets {
		sub.deliverMu.Lock()
		sub.handler.HandleTransaction(sub.ctx, tx)
		sub.deliverMu.Unlock()
	}
	return len(targets)
}

// targetsLocked returns each subscription touched by ops once.
func (n *Network) targetsLocked(ops []ledger.Operation) []*subscription {
	seen := make(map[string]bool)
	var targets []*subscription
	for _, op := range ops {
		if seen[op.To] {
			continue
		}
		seen[op.To] = true
		for _, sub := range n.subs[op.To] {
			targets = append(targets, sub)
		}
	}
	return targets
}

// Deliver hands tx to the subscriptions of address even when none of
// its operations name it (a transaction where address is only the
// source, for example). The transaction must have been submitted or
// registered with Record first for FetchOperations to succeed.
func (n *Network) Deliver(address string, tx ledger.Transaction) int {
	n.mu.Lock()
	var targets []*subscription
	for _, sub := range n.subs[address] {
		targets = append(targets, sub)
	}
	n.mu.Unlock()

	for _, sub := range targets {
		sub.deliverMu.Lock()
		sub.handler.HandleTransaction(sub.ctx, tx)
		sub.deliverMu.Unlock()
	}
	return len(targets)
}

// Record stores ops for tx without delivering anything.
func (n *Network) Record(tx ledger.Transaction, ops ...ledger.Operation) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.txs[tx.ID] = ops
}

// Fail reports err to every subscription of address, as a dropped
// stream would.
func (n *Network) Fail(address string, err error) int {
	n.mu.Lock()
	var targets []*subscription
	for _, sub := range n.subs[address] {
		targets = append(targets, sub)
	}
	n.mu.Unlock()

	for _, sub := range targets {
		sub.deliverMu.Lock()
		sub.handler.HandleError(&ledger.TransientError{Op: "stream", Address: address, Err: err})
		sub.deliverMu.Unlock()
	}
	return len(targets)
}

// FailNextSubscribe makes the next Subscribe call return err.
func (n *Network) FailNextSubscribe(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subscribeErr = err
}

// FailNextFetch makes the next FetchOperations call return err.
func (n *Network) FailNextFetch(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fetchErr = err
}

// Subscribers returns the number of open subscriptions for address.
func (n *Network) Subscribers(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs[address])
}

// SubscribeCalls returns how many times Subscribe was called for
// address, including failed calls.
func (n *Network) SubscribeCalls(address string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.subscribes[address]
}

// ErrDropped is a convenience error for simulated stream failures.
var ErrDropped = errors.New("stream dropped")

var _ ledger.Client = (*Network)(nil)
