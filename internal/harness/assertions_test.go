package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trace(names ...string) []TraceEvent {
	out := make([]TraceEvent, len(names))
	for i, n := range names {
		out[i] = TraceEvent{Seq: int64(i + 1), Name: n, Payload: map[string]any{"payment_id": "pay-0001"}}
	}
	return out
}

func TestAssertEventOrder(t *testing.T) {
	tr := trace("payment.initiated", "payment.initiated", "payment.timeout", "payment.confirmed")

	assert.NoError(t, assertEventOrder(tr, Assertion{Events: []string{"payment.initiated", "payment.confirmed"}}))
	assert.NoError(t, assertEventOrder(tr, Assertion{Events: []string{"payment.initiated", "payment.initiated", "payment.timeout"}}))

	err := assertEventOrder(tr, Assertion{Events: []string{"payment.confirmed", "payment.timeout"}})
	require.Error(t, err)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, AssertEventOrder, ae.Type)
	assert.Contains(t, ae.Actual, "missing payment.timeout")
}

func TestAssertEventCount(t *testing.T) {
	tr := trace("payment.initiated", "payment.failed", "payment.initiated")

	assert.NoError(t, assertEventCount(tr, Assertion{Event: "payment.initiated", Count: 2}))
	assert.NoError(t, assertEventCount(tr, Assertion{Event: "payment.confirmed", Count: 0}))

	err := assertEventCount(tr, Assertion{Event: "payment.failed", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 occurrences of payment.failed")
	assert.Contains(t, err.Error(), "[2] payment.failed pay-0001")
}

func TestMarshalTrace_Canonical(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{{
		Seq:     1,
		Name:    "payment.initiated",
		Payload: map[string]any{"status": "PENDING", "amount": "5"},
	}}

	got, err := MarshalTrace("demo", result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"demo","trace":[{"name":"payment.initiated","payload":{"amount":"5","status":"PENDING"},"seq":1}]}`,
		string(got))
}
