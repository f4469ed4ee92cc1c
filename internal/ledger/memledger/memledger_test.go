package memledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/ledger"
)

type recorder struct {
	mu   sync.Mutex
	txs  []ledger.Transaction
	errs []error
}

func (r *recorder) HandleTransaction(_ context.Context, tx ledger.Transaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.txs = append(r.txs, tx)
}

func (r *recorder) HandleError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func TestNetwork_SubmitDeliversToDestination(t *testing.T) {
	n := New()
	rec := &recorder{}
	sub, err := n.Subscribe(context.Background(), "DST1", rec)
	require.NoError(t, err)
	defer sub.Close()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	delivered := n.Submit(ledger.Transaction{ID: "tx1", CreatedAt: now},
		ledger.Operation{Type: ledger.OpPayment, To: "DST1", Amount: "1"},
		ledger.Operation{Type: ledger.OpPayment, To: "DST2", Amount: "2"},
	)
	assert.Equal(t, 1, delivered)
	require.Len(t, rec.txs, 1)
	assert.Equal(t, "tx1", rec.txs[0].ID)
	assert.NotEmpty(t, rec.txs[0].Raw)

	ops, err := n.FetchOperations(context.Background(), rec.txs[0])
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, "tx1", ops[0].TransactionID)
	assert.Equal(t, now, ops[1].CreatedAt)
}

func TestNetwork_CloseStopsDelivery(t *testing.T) {
	n := New()
	rec := &recorder{}
	sub, err := n.Subscribe(context.Background(), "DST1", rec)
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.Equal(t, 0, n.Subscribers("DST1"))
	assert.Equal(t, 0, n.Submit(ledger.Transaction{ID: "tx1"}, ledger.Operation{Type: ledger.OpPayment, To: "DST1"}))
}

func TestNetwork_FailureInjection(t *testing.T) {
	n := New()
	n.FailNextSubscribe(ErrDropped)

	_, err := n.Subscribe(context.Background(), "DST1", &recorder{})
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))
	assert.Equal(t, 1, n.SubscribeCalls("DST1"))

	rec := &recorder{}
	_, err = n.Subscribe(context.Background(), "DST1", rec)
	require.NoError(t, err)
	assert.Equal(t, 1, n.Fail("DST1", ErrDropped))
	require.Len(t, rec.errs, 1)
	assert.True(t, errors.Is(rec.errs[0], ErrDropped))

	n.Record(ledger.Transaction{ID: "tx1"})
	n.FailNextFetch(ErrDropped)
	_, err = n.FetchOperations(context.Background(), ledger.Transaction{ID: "tx1"})
	assert.True(t, ledger.IsTransient(err))
	_, err = n.FetchOperations(context.Background(), ledger.Transaction{ID: "tx1"})
	assert.NoError(t, err)
}

func TestPaymentOperations(t *testing.T) {
	ops := []ledger.Operation{
		{Type: "create_account"},
		{Type: ledger.OpPayment, ID: "a"},
		{Type: "manage_data"},
		{Type: ledger.OpPathPaymentStrictSend, ID: "b"},
	}
	got := ledger.PaymentOperations(ops)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "b", got[1].ID)
}
