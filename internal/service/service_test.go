package service

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/ledger"
	"github.com/roach88/paywatch/internal/ledger/memledger"
	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/store"
	"github.com/roach88/paywatch/internal/watch"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	path    string
	clock   *clock.FakeClock
	network *memledger.Network
	store   *store.Store
	svc     *Service
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		path:    filepath.Join(t.TempDir(), "paywatch.db"),
		clock:   clock.Fake(t0),
		network: memledger.New(),
	}
	f.open(t, opts...)
	require.NoError(t, f.svc.AddOrder(t.Context(), payment.OrderTerms{
		OrderID:            "O1",
		BuyerID:            "B1",
		Amount:             money.MustParse("100", money.USDC),
		Currency:           money.USDC,
		DestinationAddress: "DST1",
	}))
	return f
}

// open (re)opens the store and composes a fresh service over it.
func (f *fixture) open(t *testing.T, opts ...Option) {
	t.Helper()
	st, err := store.Open(f.path, store.WithClock(f.clock))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	base := []Option{
		WithClock(f.clock),
		WithLogger(discard()),
		WithIDGenerator(payment.NewSequenceGenerator("pay")),
		WithSynchronousEvents(),
	}
	svc, err := New(t.Context(), st, f.network, append(base, opts...)...)
	require.NoError(t, err)
	f.store = st
	f.svc = svc
}

func eventNames(t *testing.T, svc *Service, paymentID string) []string {
	t.Helper()
	evs, err := svc.Events(context.Background(), store.EventFilter{PaymentID: paymentID})
	require.NoError(t, err)
	names := make([]string, len(evs))
	for i, e := range evs {
		names[i] = e.Name
	}
	return names
}

func usdc(dest, amount string) ledger.Operation {
	return ledger.Operation{Type: ledger.OpPayment, From: "SRC1", To: dest, Amount: amount, AssetType: "credit_alphanum4", AssetCode: "USDC"}
}

func TestService_StreamConfirmsAndMarksOrderPaid(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	rec, err := f.svc.InitiatePayment(ctx, "O1", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.svc.GetActiveWatchCount())

	f.network.Submit(ledger.Transaction{ID: "tx1", Ledger: 7, CreatedAt: t0, Successful: true}, usdc("DST1", "100"))

	got, err := f.svc.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, got.Status)
	require.NotNil(t, got.Evidence)
	assert.Equal(t, "tx1", got.Evidence.TransactionID)
	assert.Zero(t, f.svc.GetActiveWatchCount())

	order, err := f.svc.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, store.OrderPaid, order.Status)
	assert.Equal(t, rec.ID, order.PaymentID)

	assert.Equal(t, []string{payment.EventInitiated, payment.EventConfirmed}, eventNames(t, f.svc, rec.ID))
}

func TestService_InitiateIsIdempotentPerOrder(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	first, err := f.svc.InitiatePayment(ctx, "O1", money.USDC, nil)
	require.NoError(t, err)
	second, err := f.svc.InitiatePayment(ctx, "O1", money.USDC, nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.svc.GetActiveWatchCount())

	byOrder, err := f.svc.GetPaymentByOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, byOrder.ID)
}

func TestService_ManualVerifyAndStats(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	rec, err := f.svc.InitiatePayment(ctx, "O1", "", nil)
	require.NoError(t, err)

	got, err := f.svc.ManuallyVerify(ctx, rec.ID, payment.Candidate{
		TransactionID: "manual-1",
		Destination:   "DST1",
		Amount:        "100.00005",
		AssetCode:     "USDC",
		Timestamp:     t0,
	})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, got.Status)

	_, err = f.svc.ManuallyVerify(ctx, rec.ID, payment.Candidate{Destination: "DST1", Amount: "100", Timestamp: t0})
	assert.True(t, payment.IsAlreadyTerminal(err))

	stats, err := f.svc.GetStats(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Confirmed)
	assert.Equal(t, "100.00005", stats.TotalConfirmed[money.USDC])
}

func TestService_SweepTimesOutExpired(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	rec, err := f.svc.InitiatePayment(ctx, "O1", "", nil)
	require.NoError(t, err)

	// Release the watch so only the sweep can resolve the payment.
	_, err = f.svc.monitor.Shutdown(ctx)
	require.NoError(t, err)
	f.clock.Advance(31 * time.Minute)

	res, err := f.svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TimedOut)

	got, err := f.svc.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusTimeout, got.Status)
	assert.Equal(t, payment.TimeoutReason, got.FailureReason)
}

func TestService_RestartResumesWatchesAndSequence(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	rec, err := f.svc.InitiatePayment(ctx, "O1", "", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.Shutdown(ctx))
	require.Zero(t, f.network.Subscribers("DST1"))

	f.open(t)
	report, err := f.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Watched)
	assert.Equal(t, 1, f.network.Subscribers("DST1"))

	f.clock.Advance(30 * time.Minute)

	got, err := f.svc.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusTimeout, got.Status)

	evs, err := f.svc.Events(ctx, store.EventFilter{PaymentID: rec.ID})
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(1), evs[0].Seq)
	assert.Equal(t, int64(2), evs[1].Seq, "sequence resumes after the stored events")
	assert.Equal(t, payment.EventTimeout, evs[1].Name)
}

func TestService_StartAndShutdownDrainsAsyncBus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "paywatch.db")
	fc := clock.Fake(t0)
	st, err := store.Open(path, store.WithClock(fc))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := New(t.Context(), st, memledger.New(),
		WithClock(fc),
		WithLogger(discard()),
		WithIDGenerator(payment.NewSequenceGenerator("pay")),
	)
	require.NoError(t, err)
	require.NoError(t, svc.AddOrder(t.Context(), payment.OrderTerms{
		OrderID: "O1", BuyerID: "B1", Amount: money.MustParse("5", money.XLM),
		Currency: money.XLM, DestinationAddress: "DST1",
	}))

	_, err = svc.Start(t.Context())
	require.NoError(t, err)
	_, err = svc.Start(t.Context())
	assert.Error(t, err, "second start must fail")

	rec, err := svc.InitiatePayment(t.Context(), "O1", "", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(ctx))
	assert.Zero(t, svc.GetActiveWatchCount())

	evs, err := st.ListEvents(t.Context(), store.EventFilter{PaymentID: rec.ID})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, payment.EventInitiated, evs[0].Name)
}

func TestService_ShutdownWithoutStart(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.svc.Shutdown(t.Context()))
}

func TestService_SweepLoopAdoptsPaymentsInitiatedElsewhere(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	_, err := f.svc.Start(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.svc.Shutdown(context.Background()) })

	// A one-shot command against the same database, on its own network.
	other, err := store.Open(f.path, store.WithClock(clock.Fake(t0)))
	require.NoError(t, err)
	oneShot, err := New(ctx, other, memledger.New(),
		WithClock(clock.Fake(t0)),
		WithLogger(discard()),
		WithIDGenerator(payment.NewSequenceGenerator("ext")),
		WithSynchronousEvents(),
	)
	require.NoError(t, err)
	rec, err := oneShot.InitiatePayment(ctx, "O1", "", nil)
	require.NoError(t, err)
	require.NoError(t, oneShot.Shutdown(ctx))
	require.NoError(t, other.Close())
	require.Zero(t, f.svc.GetActiveWatchCount())

	f.clock.WaitForTimers(1)
	f.clock.Advance(watch.DefaultSweepInterval)

	require.Eventually(t, func() bool { return f.network.Subscribers("DST1") == 1 }, 5*time.Second, 10*time.Millisecond,
		"sweep loop must watch the payment")
	assert.Equal(t, 1, f.svc.GetActiveWatchCount())

	f.network.Submit(ledger.Transaction{ID: "tx1", Ledger: 7, CreatedAt: t0, Successful: true}, usdc("DST1", "100"))

	got, err := f.svc.GetPayment(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusConfirmed, got.Status)
	order, err := f.svc.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, store.OrderPaid, order.Status)
}
