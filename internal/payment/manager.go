package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/money"
)

// Store persists payment records. It is the single source of truth
// for status.
//
// Not-found lookups wrap ErrNotFound. Save inserts or updates; an
// update moving a record out of PENDING must fail with ErrStaleWrite
// if the stored row is no longer PENDING, and inserting a PENDING
// record for an order that already has one must fail with
// ErrDuplicatePending.
type Store interface {
	FindByID(ctx context.Context, id string) (*Record, error)
	// FindByOrderID returns the most recently created record for the order.
	FindByOrderID(ctx context.Context, orderID string) (*Record, error)
	FindPending(ctx context.Context) ([]*Record, error)
	FindByBuyer(ctx context.Context, buyerID string) ([]*Record, error)
	Save(ctx context.Context, rec *Record) error
}

// OrderTerms is what the order subsystem says must be paid.
type OrderTerms struct {
	OrderID            string
	BuyerID            string
	Amount             money.Amount
	Currency           money.Currency
	DestinationAddress string
}

// Orders is the order-management collaborator.
//
// GetPayableOrder returns an error matching ErrNotFound for unknown
// orders and ErrInvalidOrderState for orders that cannot be paid.
type Orders interface {
	GetPayableOrder(ctx context.Context, orderID string) (OrderTerms, error)
	MarkPaid(ctx context.Context, orderID, paymentID string) error
}

// Emitter is the best-effort event side channel. Emit must not block
// on delivery and has no way to fail the caller.
type Emitter interface {
	Emit(ctx context.Context, name string, payload map[string]any)
}

// Watcher tracks pending payments on the ledger.
type Watcher interface {
	StartWatching(ctx context.Context, paymentID, destination string, expiresAt time.Time)
	StopWatching(paymentID string)
}

// Event names.
const (
	EventInitiated         = "payment.initiated"
	EventConfirmed         = "payment.confirmed"
	EventFailed            = "payment.failed"
	EventTimeout           = "payment.timeout"
	EventOrderUpdateFailed = "order.update_failed"
)

// TimeoutReason is the failure reason recorded on TIMEOUT.
const TimeoutReason = "payment window expired before a matching transaction was observed"

// InitiateRequest asks for a payment on an order.
type InitiateRequest struct {
	OrderID string
	// Currency defaults to the order's currency and must agree with it.
	Currency money.Currency
	// TimeoutMinutes overrides the default window when non-nil. Zero
	// creates an already expired payment.
	TimeoutMinutes *int
}

// Manager owns the payment state machine:
//
//	PENDING -> CONFIRMED | FAILED | TIMEOUT
//
// Each load-check-transition-save runs under a per-payment lock, so
// concurrent confirm/fail/timeout calls for one payment resolve to
// exactly one terminal status (the first to take the lock) while
// unrelated payments never contend. Once terminal, every further
// automatic call returns the stored record unchanged.
type Manager struct {
	store   Store
	orders  Orders
	events  Emitter
	watcher Watcher
	clock   clock.Clock
	ids     IDGenerator
	logger  *slog.Logger

	defaultTimeout int

	paymentLocks keyedMutex
	orderLocks   keyedMutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithEmitter sets the event emitter. Default discards events.
func WithEmitter(e Emitter) Option { return func(m *Manager) { m.events = e } }

// WithWatcher sets the watcher. Default does nothing.
func WithWatcher(w Watcher) Option { return func(m *Manager) { m.watcher = w } }

// WithClock sets the clock. Default clock.Real().
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

// WithIDGenerator sets the id generator. Default UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option { return func(m *Manager) { m.ids = g } }

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.logger = l } }

// WithDefaultTimeout sets the window used when a request has none.
func WithDefaultTimeout(minutes int) Option {
	return func(m *Manager) { m.defaultTimeout = minutes }
}

// NewManager returns a Manager over store and orders.
func NewManager(store Store, orders Orders, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		orders:         orders,
		events:         discardEmitter{},
		watcher:        noopWatcher{},
		clock:          clock.Real(),
		ids:            UUIDv7Generator{},
		logger:         slog.Default(),
		defaultTimeout: DefaultTimeoutMinutes,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// AttachWatcher installs w after construction, for watchers that need
// the manager themselves. Call before the manager is shared.
func (m *Manager) AttachWatcher(w Watcher) {
	m.watcher = w
}

// Initiate creates the payment for an order, or returns the order's
// existing PENDING payment so retried requests are safe.
func (m *Manager) Initiate(ctx context.Context, req InitiateRequest) (*Record, error) {
	if req.OrderID == "" {
		return nil, newInvalidRequest("", "order id is required")
	}
	timeout := m.defaultTimeout
	if req.TimeoutMinutes != nil {
		timeout = *req.TimeoutMinutes
	}
	if timeout < 0 {
		return nil, newInvalidRequest(req.OrderID, "timeout must not be negative, got %d", timeout)
	}

	unlock := m.orderLocks.Lock(req.OrderID)
	rec, created, err := m.initiateLocked(ctx, req, timeout)
	unlock()
	if err != nil {
		return nil, err
	}
	if !created {
		m.logger.Debug("initiate: returning existing pending payment", "payment_id", rec.ID, "order_id", rec.OrderID)
		return rec, nil
	}

	m.logger.Info("payment initiated",
		"payment_id", rec.ID,
		"order_id", rec.OrderID,
		"amount", rec.Amount.Format(rec.Currency),
		"currency", rec.Currency,
		"expires_at", rec.ExpiresAt)
	m.emit(ctx, EventInitiated, rec, nil)
	m.watcher.StartWatching(ctx, rec.ID, rec.DestinationAddress, rec.ExpiresAt)
	return rec.Clone(), nil
}

func (m *Manager) initiateLocked(ctx context.Context, req InitiateRequest, timeout int) (*Record, bool, error) {
	terms, err := m.orders.GetPayableOrder(ctx, req.OrderID)
	if err != nil {
		if CodeOf(err) != "" {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("initiate: get order %s: %w", req.OrderID, err)
	}

	existing, err := m.findPendingForOrder(ctx, req.OrderID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	currency := req.Currency
	if currency == "" {
		currency = terms.Currency
	}
	if !currency.Valid() {
		return nil, false, newInvalidRequest(req.OrderID, "unsupported currency %q", currency)
	}
	if currency != terms.Currency {
		return nil, false, newInvalidRequest(req.OrderID, "order is priced in %s, not %s", terms.Currency, currency)
	}
	if terms.Amount.Sign() <= 0 {
		return nil, false, &Error{Code: ErrCodeInvalidOrderState, Message: "order amount must be positive", OrderID: req.OrderID}
	}

	now := m.clock.Now()
	rec := &Record{
		ID:                 m.ids.Generate(),
		OrderID:            terms.OrderID,
		BuyerID:            terms.BuyerID,
		Amount:             terms.Amount,
		Currency:           currency,
		DestinationAddress: terms.DestinationAddress,
		Status:             StatusPending,
		TimeoutMinutes:     timeout,
		CreatedAt:          now,
		ExpiresAt:          now.Add(time.Duration(timeout) * time.Minute),
	}

	if err := m.store.Save(ctx, rec); err != nil {
		if errors.Is(err, ErrDuplicatePending) {
			// Another process won the insert.
			existing, ferr := m.findPendingForOrder(ctx, req.OrderID)
			if ferr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, newPersistence(rec.ID, "save new payment", err)
	}
	return rec, true, nil
}

func (m *Manager) findPendingForOrder(ctx context.Context, orderID string) (*Record, error) {
	rec, err := m.store.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, &Error{Code: ErrCodePersistenceFailure, Message: "find payment by order", OrderID: orderID, Err: err}
	}
	if rec.Status != StatusPending {
		return nil, nil
	}
	return rec, nil
}

// Confirm offers c as proof of payment. A PENDING record becomes
// CONFIRMED if c matches and FAILED with the matcher's reason if not.
// A record that is already terminal is returned unchanged with a nil
// error, which is what absorbs duplicate stream, webhook and manual
// deliveries racing each other.
func (m *Manager) Confirm(ctx context.Context, paymentID string, c Candidate) (*Record, error) {
	rec, _, err := m.confirm(ctx, paymentID, c)
	return rec, err
}

// ManuallyVerify is Confirm for operators. When the payment was
// already resolved it returns the stored record together with an
// error matching ErrAlreadyTerminal, so a human learns the candidate
// was not applied.
func (m *Manager) ManuallyVerify(ctx context.Context, paymentID string, c Candidate) (*Record, error) {
	rec, changed, err := m.confirm(ctx, paymentID, c)
	if err != nil {
		return nil, err
	}
	if !changed {
		return rec, newAlreadyTerminal(rec)
	}
	return rec, nil
}

func (m *Manager) confirm(ctx context.Context, paymentID string, c Candidate) (*Record, bool, error) {
	var result MatchResult
	rec, changed, err := m.transition(ctx, paymentID, func(r *Record, now time.Time) {
		result = Match(r, c, now)
		if result.OK {
			r.markConfirmed(c.evidence(), now)
			return
		}
		r.markFailed(StatusFailed, result.Reason, now)
	})
	if err != nil || !changed {
		return rec, false, err
	}

	m.watcher.StopWatching(rec.ID)

	if rec.Status == StatusConfirmed {
		m.logger.Info("payment confirmed", "payment_id", rec.ID, "order_id", rec.OrderID, "tx", c.TransactionID)
		if err := m.orders.MarkPaid(ctx, rec.OrderID, rec.ID); err != nil {
			// The confirmation is committed; never roll it back.
			m.logger.Error("mark order paid failed", "payment_id", rec.ID, "order_id", rec.OrderID, "error", err)
			m.emit(ctx, EventOrderUpdateFailed, rec, map[string]any{"error": err.Error()})
		}
		m.emit(ctx, EventConfirmed, rec, map[string]any{
			"transaction_id": rec.Evidence.TransactionID,
			"source":         rec.Evidence.SourceAddress,
		})
		return rec, true, nil
	}

	m.logger.Warn("payment failed", "payment_id", rec.ID, "order_id", rec.OrderID, "reject", result.Code, "reason", result.Reason)
	m.emit(ctx, EventFailed, rec, map[string]any{
		"reject_code":    string(result.Code),
		"transaction_id": c.TransactionID,
	})
	return rec, true, nil
}

// Timeout moves a PENDING payment to TIMEOUT. Idempotent.
func (m *Manager) Timeout(ctx context.Context, paymentID string) (*Record, error) {
	rec, changed, err := m.transition(ctx, paymentID, func(r *Record, now time.Time) {
		r.markFailed(StatusTimeout, TimeoutReason, now)
	})
	if err != nil || !changed {
		return rec, err
	}

	m.watcher.StopWatching(rec.ID)
	m.logger.Info("payment timed out", "payment_id", rec.ID, "order_id", rec.OrderID, "expires_at", rec.ExpiresAt)
	m.emit(ctx, EventTimeout, rec, nil)
	return rec, nil
}

// transition runs apply on a PENDING record and persists the result.
// Reports changed=false with the stored record when the record was
// already terminal or another writer got there first.
func (m *Manager) transition(ctx context.Context, paymentID string, apply func(*Record, time.Time)) (*Record, bool, error) {
	unlock := m.paymentLocks.Lock(paymentID)
	defer unlock()

	rec, err := m.load(ctx, paymentID)
	if err != nil {
		return nil, false, err
	}
	if rec.Status.Terminal() {
		return rec, false, nil
	}

	next := rec.Clone()
	apply(next, m.clock.Now())

	if err := m.store.Save(ctx, next); err != nil {
		if errors.Is(err, ErrStaleWrite) {
			current, lerr := m.load(ctx, paymentID)
			if lerr != nil {
				return nil, false, lerr
			}
			return current, false, nil
		}
		return nil, false, newPersistence(paymentID, "save transition to "+string(next.Status), err)
	}
	return next, true, nil
}

func (m *Manager) load(ctx context.Context, paymentID string) (*Record, error) {
	rec, err := m.store.FindByID(ctx, paymentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newNotFound(paymentID, "")
		}
		return nil, newPersistence(paymentID, "load payment", err)
	}
	return rec, nil
}

// Get returns a payment by id.
func (m *Manager) Get(ctx context.Context, paymentID string) (*Record, error) {
	return m.load(ctx, paymentID)
}

// GetByOrder returns the most recent payment of an order.
func (m *Manager) GetByOrder(ctx context.Context, orderID string) (*Record, error) {
	rec, err := m.store.FindByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newNotFound("", orderID)
		}
		return nil, &Error{Code: ErrCodePersistenceFailure, Message: "find payment by order", OrderID: orderID, Err: err}
	}
	return rec, nil
}

// Stats aggregates a buyer's payments by status.
func (m *Manager) Stats(ctx context.Context, buyerID string) (Stats, error) {
	recs, err := m.store.FindByBuyer(ctx, buyerID)
	if err != nil {
		return Stats{}, &Error{Code: ErrCodePersistenceFailure, Message: "find payments by buyer", Err: err}
	}
	return Aggregate(buyerID, recs), nil
}

func (m *Manager) emit(ctx context.Context, name string, rec *Record, extra map[string]any) {
	payload := map[string]any{
		"payment_id": rec.ID,
		"order_id":   rec.OrderID,
		"buyer_id":   rec.BuyerID,
		"status":     string(rec.Status),
		"amount":     rec.Amount.Format(rec.Currency),
		"currency":   string(rec.Currency),
	}
	if rec.FailureReason != "" {
		payload["reason"] = rec.FailureReason
	}
	for k, v := range extra {
		payload[k] = v
	}
	m.events.Emit(ctx, name, payload)
}

type discardEmitter struct{}

func (discardEmitter) Emit(context.Context, string, map[string]any) {}

type noopWatcher struct{}

func (noopWatcher) StartWatching(context.Context, string, string, time.Time) {}
func (noopWatcher) StopWatching(string)                                     {}
