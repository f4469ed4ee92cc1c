package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/ledger"
	"github.com/roach88/paywatch/internal/ledger/memledger"
	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/service"
	"github.com/roach88/paywatch/internal/store"
)

// Epoch is the clock reading every scenario starts at.
var Epoch = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

// Harness executes one scenario. Create it with Run.
type Harness struct {
	path    string
	clock   *clock.FakeClock
	network *memledger.Network
	ids     *payment.SequenceGenerator
	logger  *slog.Logger

	store *store.Store
	svc   *service.Service
}

// Run executes scenario in a fresh database and returns its result.
// An error means the harness itself could not run; failed
// expectations are reported in the result.
//
// Execution flow:
//  1. Create a database in a temporary directory
//  2. Register the scenario's orders
//  3. Execute flow steps, checking expect clauses
//  4. Read the event outbox into the trace
//  5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "paywatch-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario directory: %w", err)
	}
	defer os.RemoveAll(dir)

	h := &Harness{
		path:    filepath.Join(dir, "scenario.db"),
		clock:   clock.Fake(Epoch),
		network: memledger.New(),
		ids:     payment.NewSequenceGenerator("pay"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	if err := h.open(ctx); err != nil {
		return nil, err
	}
	defer h.close(ctx)

	if err := h.registerOrders(ctx, scenario.Orders); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Flow {
		if err := h.executeStep(ctx, step); err != nil {
			result.AddError(fmt.Sprintf("flow[%d] %s: %v", i, step.Do, err))
			break
		}
	}

	trace, err := h.trace(ctx)
	if err != nil {
		return nil, err
	}
	result.Trace = trace
	if err := h.collectPayments(ctx, scenario.Orders, result); err != nil {
		return nil, err
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluateAssertion(ctx, result, a); err != nil {
			result.AddError(err.Error())
		}
	}
	return result, nil
}

func (h *Harness) open(ctx context.Context) error {
	st, err := store.Open(h.path, store.WithClock(h.clock))
	if err != nil {
		return fmt.Errorf("failed to open scenario store: %w", err)
	}
	svc, err := service.New(ctx, st, h.network,
		service.WithClock(h.clock),
		service.WithLogger(h.logger),
		service.WithIDGenerator(h.ids),
		service.WithSynchronousEvents(),
	)
	if err != nil {
		st.Close()
		return fmt.Errorf("failed to compose service: %w", err)
	}
	h.store, h.svc = st, svc
	return nil
}

func (h *Harness) close(ctx context.Context) error {
	if h.svc == nil {
		return nil
	}
	err := errors.Join(h.svc.Shutdown(ctx), h.store.Close())
	h.svc, h.store = nil, nil
	return err
}

func (h *Harness) registerOrders(ctx context.Context, orders []OrderSpec) error {
	for _, o := range orders {
		c, err := money.ParseCurrency(o.Currency)
		if err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
		amount, err := money.Parse(o.Amount, c)
		if err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
		if err := h.svc.AddOrder(ctx, payment.OrderTerms{
			OrderID:            o.ID,
			BuyerID:            o.Buyer,
			Amount:             amount,
			Currency:           c,
			DestinationAddress: o.Destination,
		}); err != nil {
			return fmt.Errorf("order %s: %w", o.ID, err)
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, st Step) error {
	var stepErr error
	switch st.Do {
	case StepInitiate:
		_, stepErr = h.svc.InitiatePayment(ctx, st.Order, money.Currency(strings.ToUpper(st.Currency)), st.Timeout)
	case StepSubmit:
		tx, ops, err := h.transaction(st.Tx)
		if err != nil {
			return err
		}
		h.network.Submit(tx, ops...)
	case StepDeliver:
		tx, ops, err := h.transaction(st.Tx)
		if err != nil {
			return err
		}
		h.network.Record(tx, ops...)
		h.network.Deliver(st.Address, tx)
	case StepFailStream:
		h.network.Fail(st.Address, memledger.ErrDropped)
	case StepAdvance:
		d, err := time.ParseDuration(st.Duration)
		if err != nil {
			return err
		}
		h.clock.Advance(d)
	case StepSweep:
		_, stepErr = h.svc.Sweep(ctx)
	case StepVerify:
		stepErr = h.verify(ctx, st)
	case StepCancelOrder:
		stepErr = h.store.CancelOrder(ctx, st.Order)
	case StepRecover:
		_, stepErr = h.svc.Recover(ctx)
	case StepRestart:
		if err := h.close(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := h.open(ctx); err != nil {
			return err
		}
		_, stepErr = h.svc.Recover(ctx)
	default:
		return fmt.Errorf("unknown step %q", st.Do)
	}

	return h.checkExpect(ctx, st, stepErr)
}

func (h *Harness) verify(ctx context.Context, st Step) error {
	rec, err := h.svc.GetPaymentByOrder(ctx, st.Order)
	if err != nil {
		return err
	}
	ts, err := h.backdate(st.Candidate.Age)
	if err != nil {
		return err
	}
	_, err = h.svc.ManuallyVerify(ctx, rec.ID, payment.Candidate{
		TransactionID: st.Candidate.TransactionID,
		Source:        st.Candidate.Source,
		Destination:   st.Candidate.Destination,
		Amount:        st.Candidate.Amount,
		AssetCode:     st.Candidate.Asset,
		Timestamp:     ts,
	})
	return err
}

func (h *Harness) checkExpect(ctx context.Context, st Step, stepErr error) error {
	e := st.Expect
	if e == nil || e.Error == "" {
		if stepErr != nil {
			return stepErr
		}
	}
	if e == nil {
		return nil
	}

	if e.Error != "" {
		got := payment.CodeOf(stepErr)
		if string(got) != e.Error {
			return fmt.Errorf("expected error %s, got %v", e.Error, stepErr)
		}
	}

	if e.Status != "" || e.Reason != "" {
		rec, err := h.svc.GetPaymentByOrder(ctx, st.Order)
		if err != nil {
			return fmt.Errorf("expect: %w", err)
		}
		if e.Status != "" && string(rec.Status) != e.Status {
			return fmt.Errorf("expected status %s, got %s", e.Status, rec.Status)
		}
		if e.Reason != "" && !strings.Contains(rec.FailureReason, e.Reason) {
			return fmt.Errorf("expected reason containing %q, got %q", e.Reason, rec.FailureReason)
		}
	}

	if e.Watches != nil {
		if got := h.svc.GetActiveWatchCount(); got != *e.Watches {
			return fmt.Errorf("expected %d active watches, got %d", *e.Watches, got)
		}
	}
	return nil
}

func (h *Harness) transaction(spec *TxSpec) (ledger.Transaction, []ledger.Operation, error) {
	at, err := h.backdate(spec.Age)
	if err != nil {
		return ledger.Transaction{}, nil, err
	}
	tx := ledger.Transaction{
		ID:         spec.ID,
		Source:     spec.Source,
		Ledger:     1,
		CreatedAt:  at,
		Successful: true,
	}
	ops := make([]ledger.Operation, len(spec.Ops))
	for i, o := range spec.Ops {
		op := ledger.Operation{
			Type:      o.Type,
			From:      o.From,
			To:        o.To,
			Amount:    o.Amount,
			AssetType: ledger.AssetTypeNative,
		}
		if op.Type == "" {
			op.Type = ledger.OpPayment
		}
		if op.From == "" {
			op.From = spec.Source
		}
		if o.Asset != "" {
			op.AssetType = "credit_alphanum4"
			op.AssetCode = o.Asset
		}
		ops[i] = op
	}
	return tx, ops, nil
}

func (h *Harness) backdate(age string) (time.Time, error) {
	now := h.clock.Now()
	if age == "" {
		return now, nil
	}
	d, err := time.ParseDuration(age)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid age %q: %w", age, err)
	}
	return now.Add(-d), nil
}

func (h *Harness) trace(ctx context.Context) ([]TraceEvent, error) {
	evs, err := h.svc.Events(ctx, store.EventFilter{})
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	trace := make([]TraceEvent, len(evs))
	for i, e := range evs {
		trace[i] = TraceEvent{Seq: e.Seq, Name: e.Name, Payload: e.Payload}
	}
	return trace, nil
}

func (h *Harness) collectPayments(ctx context.Context, orders []OrderSpec, result *Result) error {
	for _, o := range orders {
		rec, err := h.svc.GetPaymentByOrder(ctx, o.ID)
		if payment.IsNotFound(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read payment of %s: %w", o.ID, err)
		}
		result.Payments[o.ID] = string(rec.Status)
	}
	return nil
}
