package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/ledger"
	"github.com/roach88/paywatch/internal/payment"
)

// DefaultRetryDelay is the wait before retrying a failed Subscribe.
const DefaultRetryDelay = 5 * time.Second

// Reconciler is the part of the lifecycle manager the monitor drives.
type Reconciler interface {
	Confirm(ctx context.Context, paymentID string, c payment.Candidate) (*payment.Record, error)
	Timeout(ctx context.Context, paymentID string) (*payment.Record, error)
}

// Monitor is the watch registry and stream monitor. It implements
// payment.Watcher.
type Monitor struct {
	client     ledger.Client
	payments   Reconciler
	clock      clock.Clock
	logger     *slog.Logger
	retryDelay time.Duration

	mu      sync.Mutex
	watches map[string]*watch
	// retired holds ids whose watch was torn down; they are never
	// watched again. Adopt forgets ids that are no longer PENDING.
	retired map[string]struct{}
	closed  bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithClock sets the clock for deadline and retry timers.
func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithRetryDelay sets the wait between Subscribe attempts.
func WithRetryDelay(d time.Duration) Option { return func(m *Monitor) { m.retryDelay = d } }

// NewMonitor returns an empty registry.
func NewMonitor(client ledger.Client, payments Reconciler, opts ...Option) *Monitor {
	m := &Monitor{
		client:     client,
		payments:   payments,
		clock:      clock.Real(),
		logger:     slog.Default(),
		retryDelay: DefaultRetryDelay,
		watches:    make(map[string]*watch),
		retired:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// StartWatching subscribes to destination for the payment and arms its
// deadline timer. It is a no-op if the payment is being watched, was
// watched before, or the monitor is shut down.
//
// The registry lock only covers the existence check and insert.
// Subscribe and the timer run unlocked, and a watch stopped while it
// was being set up releases what it acquired.
func (m *Monitor) StartWatching(ctx context.Context, paymentID, destination string, expiresAt time.Time) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.watches[paymentID]; ok {
		m.mu.Unlock()
		return
	}
	if _, ok := m.retired[paymentID]; ok {
		m.mu.Unlock()
		m.logger.Debug("not re-watching released payment", "payment_id", paymentID)
		return
	}
	w := newWatch(ctx, m, paymentID, destination, expiresAt)
	m.watches[paymentID] = w
	m.mu.Unlock()

	m.logger.Debug("watch started", "payment_id", paymentID, "destination", destination, "expires_at", expiresAt)

	w.subscribe()

	delay := expiresAt.Sub(m.clock.Now())
	if delay < 0 {
		delay = 0
	}
	timer := m.clock.AfterFunc(delay, w.deadline)
	w.setTimer(timer)
}

// StopWatching releases the payment's subscription and timer.
// Idempotent.
func (m *Monitor) StopWatching(paymentID string) {
	m.mu.Lock()
	w, ok := m.watches[paymentID]
	delete(m.watches, paymentID)
	m.retired[paymentID] = struct{}{}
	m.mu.Unlock()

	if !ok {
		return
	}
	if err := w.release(); err != nil {
		m.logger.Warn("release subscription failed", "payment_id", paymentID, "error", err)
	}
	m.logger.Debug("watch stopped", "payment_id", paymentID)
}

// Count returns the number of active watches.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watches)
}

// Watching reports whether the payment has an active watch.
func (m *Monitor) Watching(paymentID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.watches[paymentID]
	return ok
}

// Active returns the ids of active watches, sorted.
func (m *Monitor) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.watches))
	for id := range m.watches {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ShutdownReport counts what Shutdown released.
type ShutdownReport struct {
	Released int
	Failed   int
}

// Shutdown releases every subscription and timer and refuses new
// watches. A failing or panicking release is counted and does not stop
// the others. The joined release errors are returned.
func (m *Monitor) Shutdown(ctx context.Context) (ShutdownReport, error) {
	m.mu.Lock()
	m.closed = true
	all := make([]*watch, 0, len(m.watches))
	for id, w := range m.watches {
		all = append(all, w)
		delete(m.watches, id)
	}
	m.mu.Unlock()

	var (
		report ShutdownReport
		errs   []error
	)
	for _, w := range all {
		if err := releaseIsolated(w); err != nil {
			report.Failed++
			errs = append(errs, fmt.Errorf("payment %s: %w", w.paymentID, err))
			continue
		}
		report.Released++
	}

	m.logger.InfoContext(ctx, "watch registry shut down", "released", report.Released, "failed", report.Failed)
	return report, errors.Join(errs...)
}

func releaseIsolated(w *watch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("release panicked: %v", r)
		}
	}()
	return w.release()
}

// Retired returns the number of released ids the registry remembers.
func (m *Monitor) Retired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retired)
}

// Adopt reconciles the registry with pending, the store's PENDING
// records. Unexpired records nobody watches get a watch, which picks
// up payments initiated by another process. Retired ids missing from
// pending are forgotten: a record that left PENDING never returns to
// it. Returns the number of watches started.
func (m *Monitor) Adopt(ctx context.Context, pending []*payment.Record) int {
	live := make(map[string]struct{}, len(pending))
	for _, rec := range pending {
		live[rec.ID] = struct{}{}
	}

	m.mu.Lock()
	for id := range m.retired {
		if _, ok := live[id]; !ok {
			delete(m.retired, id)
		}
	}
	m.mu.Unlock()

	now := m.clock.Now()
	adopted := 0
	for _, rec := range pending {
		if rec.Expired(now) || m.Watching(rec.ID) {
			continue
		}
		m.StartWatching(ctx, rec.ID, rec.DestinationAddress, rec.ExpiresAt)
		if m.Watching(rec.ID) {
			adopted++
			m.logger.Info("adopted pending payment", "payment_id", rec.ID, "destination", rec.DestinationAddress)
		}
	}
	return adopted
}

// deliver runs the per-transaction pipeline for one watch.
func (m *Monitor) deliver(ctx context.Context, w *watch, tx ledger.Transaction) {
	ops, err := m.client.FetchOperations(ctx, tx)
	if err != nil {
		m.logger.Warn("fetch operations failed",
			"payment_id", w.paymentID,
			"tx", tx.ID,
			"code", payment.ErrCodeNetworkTransient,
			"error", err)
		return
	}

	for _, op := range orderOperations(ledger.PaymentOperations(ops), w.destination) {
		if w.isStopped() {
			return
		}
		rec, err := m.payments.Confirm(ctx, w.paymentID, payment.CandidateFromOperation(tx, op))
		if m.settled(w, "confirm from stream", rec, err) {
			return
		}
	}
}

// fire is the deadline callback.
func (m *Monitor) fire(w *watch) {
	if w.isStopped() {
		return
	}
	rec, err := m.payments.Timeout(context.Background(), w.paymentID)
	m.settled(w, "timeout from deadline", rec, err)
}

// settled reports whether the automatic path for w is done. A payment
// that is gone or no longer PENDING is released here too, since it may
// have been resolved by another process.
func (m *Monitor) settled(w *watch, op string, rec *payment.Record, err error) bool {
	if err != nil {
		m.logAutomaticError(op, w.paymentID, err)
		if payment.IsNotFound(err) {
			m.StopWatching(w.paymentID)
		}
		return true
	}
	if rec.Status == payment.StatusPending {
		return false
	}
	m.StopWatching(w.paymentID)
	return true
}

// logAutomaticError applies the automatic-path policy: unknown and
// resolved payments are no-ops, everything else is an error left for
// the next sweep.
func (m *Monitor) logAutomaticError(op, paymentID string, err error) {
	switch payment.CodeOf(err) {
	case payment.ErrCodeNotFound, payment.ErrCodeAlreadyTerminal:
		m.logger.Debug(op+": nothing to do", "payment_id", paymentID, "error", err)
	default:
		m.logger.Error(op+" failed", "payment_id", paymentID, "error", err)
	}
}

// orderOperations puts operations paying destination first, keeping
// ledger order otherwise. A batched transaction paying several
// accounts is then judged by the operation addressed to this watch.
func orderOperations(ops []ledger.Operation, destination string) []ledger.Operation {
	out := append([]ledger.Operation(nil), ops...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].To == destination && out[j].To != destination
	})
	return out
}
