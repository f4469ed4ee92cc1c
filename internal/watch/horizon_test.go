package watch_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/ledger/horizon"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/watch"
)

// horizonServer streams one successful transaction paying DST1 and
// serves its operations. streamClosed is closed when the client drops
// the stream.
func horizonServer(t *testing.T, amount string) (srv *httptest.Server, streamClosed chan struct{}) {
	t.Helper()
	streamClosed = make(chan struct{})
	var once sync.Once

	mux := http.NewServeMux()
	mux.HandleFunc("/accounts/DST1/transactions", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "retry: 1000\nevent: open\ndata: \"hello\"\n\n")
		fmt.Fprint(w, `id: 7001`+"\n"+`data: {"hash":"tx1","source_account":"SRC1","ledger":42,"created_at":"2026-03-01T10:00:00Z","successful":true,"paging_token":"7001"}`+"\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
		once.Do(func() { close(streamClosed) })
	})
	mux.HandleFunc("/transactions/tx1/operations", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"_embedded":{"records":[
			{"id":"1","type":"payment","transaction_hash":"tx1","from":"SRC1","to":"DST1","amount":%q,"asset_type":"credit_alphanum4","asset_code":"USDC","asset_issuer":"ISS","created_at":"2026-03-01T10:00:00Z"}
		]}}`, amount)
	})

	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, streamClosed
}

func newHorizonHarness(t *testing.T, url string) *harness {
	t.Helper()
	h := newHarness(t)
	client, err := horizon.New(url, horizon.WithLogger(discard()), horizon.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	require.NoError(t, err)
	h.mon = watch.NewMonitor(client, h.mgr, watch.WithClock(h.clock), watch.WithLogger(discard()))
	h.mgr.AttachWatcher(h.mon)
	t.Cleanup(func() { _, _ = h.mon.Shutdown(t.Context()) })
	return h
}

func TestMonitor_HorizonStreamConfirmsAndMarksOrderPaid(t *testing.T) {
	srv, streamClosed := horizonServer(t, "100.0000000")
	h := newHorizonHarness(t, srv.URL)

	rec := h.initiate(t, "O1", nil)

	require.Eventually(t, func() bool { return h.orders.Paid("O1") }, 5*time.Second, 10*time.Millisecond,
		"confirmation must reach the order book")
	assert.Equal(t, payment.StatusConfirmed, h.status(t, rec.ID))
	assert.Equal(t, []string{rec.ID}, h.orders.MarkPaidCalls("O1"))
	assert.Equal(t, 1, h.events.Count(payment.EventConfirmed))
	assert.Zero(t, h.mon.Count())

	select {
	case <-streamClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream connection was not released")
	}
}

func TestMonitor_HorizonStreamMismatchFails(t *testing.T) {
	srv, streamClosed := horizonServer(t, "99")
	h := newHorizonHarness(t, srv.URL)

	rec := h.initiate(t, "O1", nil)

	require.Eventually(t, func() bool { return h.events.Count(payment.EventFailed) == 1 }, 5*time.Second, 10*time.Millisecond)
	got, err := h.mgr.Get(t.Context(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusFailed, got.Status)
	assert.Contains(t, got.FailureReason, "amount mismatch")
	assert.False(t, h.orders.Paid("O1"))
	assert.Zero(t, h.mon.Count())

	select {
	case <-streamClosed:
	case <-time.After(5 * time.Second):
		t.Fatal("stream connection was not released")
	}
}
