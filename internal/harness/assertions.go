package harness

import (
	"context"
	"fmt"
	"strings"

	"github.com/roach88/paywatch/internal/payment"
)

// AssertionError is returned when an assertion fails. It carries the
// trace for debugging context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, event := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s %v\n", event.Seq, event.Name, event.Payload["payment_id"])
	}
	return buf.String()
}

func (h *Harness) evaluateAssertion(ctx context.Context, result *Result, a Assertion) error {
	switch a.Type {
	case AssertEventOrder:
		return assertEventOrder(result.Trace, a)
	case AssertEventCount:
		return assertEventCount(result.Trace, a)
	case AssertFinalState:
		return h.assertFinalState(ctx, result.Trace, a)
	case AssertWatchCount:
		if got := h.svc.GetActiveWatchCount(); got != a.Count {
			return &AssertionError{
				Type:     AssertWatchCount,
				Expected: fmt.Sprintf("%d active watches", a.Count),
				Actual:   fmt.Sprintf("%d active watches", got),
				Trace:    result.Trace,
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// assertEventOrder checks that the events appear in the given order.
// Other events may appear in between; repeated names match successive
// occurrences.
func assertEventOrder(trace []TraceEvent, a Assertion) error {
	next := 0
	for _, event := range trace {
		if next < len(a.Events) && event.Name == a.Events[next] {
			next++
		}
	}
	if next == len(a.Events) {
		return nil
	}
	return &AssertionError{
		Type:     AssertEventOrder,
		Expected: fmt.Sprintf("events in order: %v", a.Events),
		Actual:   fmt.Sprintf("missing %s after %v", a.Events[next], a.Events[:next]),
		Trace:    trace,
	}
}

// assertEventCount checks that the event appears exactly Count times.
func assertEventCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Name == a.Event {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertEventCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, a.Event),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func (h *Harness) assertFinalState(ctx context.Context, trace []TraceEvent, a Assertion) error {
	fail := func(expected, actual string) error {
		return &AssertionError{Type: AssertFinalState, Expected: expected, Actual: actual, Trace: trace}
	}

	if a.Status != "" || a.Reason != "" {
		rec, err := h.svc.GetPaymentByOrder(ctx, a.Order)
		if payment.IsNotFound(err) {
			return fail(fmt.Sprintf("a payment for order %s", a.Order), "no payment")
		}
		if err != nil {
			return err
		}
		if a.Status != "" && string(rec.Status) != a.Status {
			return fail(fmt.Sprintf("order %s payment %s", a.Order, a.Status), string(rec.Status))
		}
		if a.Reason != "" && !strings.Contains(rec.FailureReason, a.Reason) {
			return fail(fmt.Sprintf("reason containing %q", a.Reason), fmt.Sprintf("%q", rec.FailureReason))
		}
	}

	if a.OrderStatus != "" {
		order, err := h.svc.GetOrder(ctx, a.Order)
		if err != nil {
			return err
		}
		if string(order.Status) != a.OrderStatus {
			return fail(fmt.Sprintf("order %s %s", a.Order, a.OrderStatus), string(order.Status))
		}
	}
	return nil
}
