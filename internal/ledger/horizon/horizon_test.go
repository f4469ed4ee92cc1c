package horizon

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/ledger"
)

type chanHandler struct {
	txs  chan ledger.Transaction
	errs chan error
}

func newChanHandler() *chanHandler {
	return &chanHandler{txs: make(chan ledger.Transaction, 8), errs: make(chan error, 8)}
}

func (h *chanHandler) HandleTransaction(_ context.Context, tx ledger.Transaction) { h.txs <- tx }
func (h *chanHandler) HandleError(err error)                                      { h.errs <- err }

const txEvent = `{"hash":"abc123","source_account":"SRC1","ledger":42,"created_at":"2026-01-01T00:00:00Z","successful":true,"paging_token":"1001"}`

func streamServer(t *testing.T, failFirst bool) (*httptest.Server, *atomic.Int32, chan string) {
	t.Helper()
	var calls atomic.Int32
	cursors := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.Equal(t, "/accounts/DST1/transactions", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		cursors <- r.URL.Query().Get("cursor")

		if failFirst && n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "retry: 1000\nevent: open\ndata: \"hello\"\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprintf(w, "id: 1001\ndata: %s\n\n", txEvent)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, cursors
}

func TestSubscribe_DeliversTransactions(t *testing.T) {
	srv, _, cursors := streamServer(t, false)
	c, err := New(srv.URL)
	require.NoError(t, err)

	h := newChanHandler()
	sub, err := c.Subscribe(context.Background(), "DST1", h)
	require.NoError(t, err)

	select {
	case tx := <-h.txs:
		assert.Equal(t, "abc123", tx.ID)
		assert.Equal(t, "SRC1", tx.Source)
		assert.Equal(t, int64(42), tx.Ledger)
		assert.JSONEq(t, txEvent, string(tx.Raw))
	case <-time.After(5 * time.Second):
		t.Fatal("no transaction delivered")
	}
	assert.Equal(t, "now", <-cursors)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close is idempotent")
}

func TestSubscribe_ReconnectsAfterError(t *testing.T) {
	srv, calls, cursors := streamServer(t, true)
	c, err := New(srv.URL, WithBackoff(time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)

	h := newChanHandler()
	sub, err := c.Subscribe(context.Background(), "DST1", h)
	require.NoError(t, err)
	defer sub.Close()

	select {
	case err := <-h.errs:
		assert.True(t, ledger.IsTransient(err))
	case <-time.After(5 * time.Second):
		t.Fatal("stream error not reported")
	}

	select {
	case tx := <-h.txs:
		assert.Equal(t, "abc123", tx.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("no transaction after reconnect")
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	assert.Equal(t, "now", <-cursors)
}

func TestFetchOperations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transactions/abc123/operations", r.URL.Path)
		assert.Equal(t, "200", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"_embedded":{"records":[
			{"id":"1","type":"payment","transaction_hash":"abc123","from":"SRC1","to":"DST1","amount":"100.0000400","asset_type":"credit_alphanum4","asset_code":"USDC","asset_issuer":"ISS","created_at":"2026-01-01T00:00:00Z"},
			{"id":"2","type":"manage_data","transaction_hash":"abc123","created_at":"2026-01-01T00:00:00Z"}
		]}}`)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	ops, err := c.FetchOperations(context.Background(), ledger.Transaction{ID: "abc123"})
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.True(t, ops[0].IsPayment())
	assert.Equal(t, "USDC", ops[0].AssetCode)
	assert.Equal(t, "100.0000400", ops[0].Amount)
	assert.False(t, ops[1].IsPayment())
}

func TestFetchOperations_StatusIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)

	_, err = c.FetchOperations(context.Background(), ledger.Transaction{ID: "abc123"})
	require.Error(t, err)
	assert.True(t, ledger.IsTransient(err))
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	assert.Error(t, err)
}

// selfClosingHandler closes its own subscription from inside
// HandleTransaction, the way a watch does once its payment resolves.
type selfClosingHandler struct {
	sub    chan ledger.Subscription
	closed chan error
}

func (h *selfClosingHandler) HandleTransaction(context.Context, ledger.Transaction) {
	h.closed <- (<-h.sub).Close()
}

func (h *selfClosingHandler) HandleError(error) {}

func TestSubscribe_CloseFromHandlerDoesNotBlock(t *testing.T) {
	srv, _, _ := streamServer(t, false)
	c, err := New(srv.URL)
	require.NoError(t, err)

	h := &selfClosingHandler{sub: make(chan ledger.Subscription, 1), closed: make(chan error, 1)}
	sub, err := c.Subscribe(context.Background(), "DST1", h)
	require.NoError(t, err)
	h.sub <- sub

	select {
	case err := <-h.closed:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("close from handler blocked")
	}

	select {
	case <-sub.(*stream).done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream goroutine did not exit")
	}
	require.NoError(t, sub.Close(), "close after exit returns")
}
