package watch

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/ledger"
)

// watch is one registry entry. It is the ledger.Handler of its own
// subscription.
type watch struct {
	monitor     *Monitor
	paymentID   string
	destination string
	expiresAt   time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	sub     ledger.Subscription
	timer   *clock.Timer
	retry   *clock.Timer
}

func newWatch(parent context.Context, m *Monitor, paymentID, destination string, expiresAt time.Time) *watch {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &watch{
		monitor:     m,
		paymentID:   paymentID,
		destination: destination,
		expiresAt:   expiresAt,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// HandleTransaction implements ledger.Handler.
func (w *watch) HandleTransaction(ctx context.Context, tx ledger.Transaction) {
	if w.isStopped() {
		return
	}
	w.monitor.deliver(ctx, w, tx)
}

// HandleError implements ledger.Handler. Errors never end the watch.
func (w *watch) HandleError(err error) {
	w.monitor.logger.Warn("subscription error",
		"payment_id", w.paymentID,
		"destination", w.destination,
		"transient", ledger.IsTransient(err),
		"error", err)
}

// subscribe opens the subscription, scheduling a retry on failure.
func (w *watch) subscribe() {
	if w.isStopped() {
		return
	}
	m := w.monitor
	sub, err := m.client.Subscribe(w.ctx, w.destination, w)
	if err != nil {
		m.logger.Warn("subscribe failed, will retry",
			"payment_id", w.paymentID,
			"destination", w.destination,
			"retry_in", m.retryDelay,
			"error", err)
		retry := m.clock.AfterFunc(m.retryDelay, w.subscribe)
		w.mu.Lock()
		if w.stopped {
			w.mu.Unlock()
			retry.Stop()
			return
		}
		w.retry = retry
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		_ = sub.Close()
		return
	}
	w.sub = sub
	w.mu.Unlock()
}

func (w *watch) setTimer(t *clock.Timer) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		t.Stop()
		return
	}
	w.timer = t
	w.mu.Unlock()
}

func (w *watch) deadline() {
	w.monitor.fire(w)
}

func (w *watch) isStopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// release stops timers and closes the subscription. Only the first
// call does anything.
func (w *watch) release() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	sub, timer, retry := w.sub, w.timer, w.retry
	w.sub, w.timer, w.retry = nil, nil, nil
	w.mu.Unlock()

	w.cancel()
	if timer != nil {
		timer.Stop()
	}
	if retry != nil {
		retry.Stop()
	}
	if sub != nil {
		return sub.Close()
	}
	return nil
}
