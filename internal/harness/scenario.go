package harness

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/paywatch/internal/money"
)

// Scenario is one end-to-end payment flow with its expected outcome.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Orders are registered before the flow runs.
	Orders []OrderSpec `yaml:"orders"`

	// Flow is executed in order. A failing step stops the run.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// OrderSpec is a payable order.
type OrderSpec struct {
	ID          string `yaml:"id"`
	Buyer       string `yaml:"buyer"`
	Amount      string `yaml:"amount"`
	Currency    string `yaml:"currency"`
	Destination string `yaml:"destination"`
}

// Step kinds.
const (
	StepInitiate    = "initiate"
	StepSubmit      = "submit"
	StepDeliver     = "deliver"
	StepFailStream  = "fail_stream"
	StepAdvance     = "advance"
	StepSweep       = "sweep"
	StepVerify      = "verify"
	StepCancelOrder = "cancel_order"
	StepRecover     = "recover"
	StepRestart     = "restart"
)

// Step is one action of the flow. Which fields apply depends on Do.
type Step struct {
	Do string `yaml:"do"`

	// Order selects the order (initiate, verify, cancel_order) and the
	// payment an expect clause checks.
	Order    string `yaml:"order,omitempty"`
	Currency string `yaml:"currency,omitempty"`
	Timeout  *int   `yaml:"timeout,omitempty"`

	// Address is the stream deliver and fail_stream target.
	Address string  `yaml:"address,omitempty"`
	Tx      *TxSpec `yaml:"tx,omitempty"`

	// Duration is a Go duration string for advance.
	Duration string `yaml:"duration,omitempty"`

	Candidate *CandidateSpec `yaml:"candidate,omitempty"`

	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// TxSpec is a ledger transaction.
type TxSpec struct {
	ID     string `yaml:"id"`
	Source string `yaml:"source,omitempty"`
	// Age backdates the transaction relative to the current clock.
	Age string   `yaml:"age,omitempty"`
	Ops []OpSpec `yaml:"ops"`
}

// OpSpec is one operation. Type defaults to payment; an empty asset
// is the native asset.
type OpSpec struct {
	Type   string `yaml:"type,omitempty"`
	From   string `yaml:"from,omitempty"`
	To     string `yaml:"to"`
	Amount string `yaml:"amount"`
	Asset  string `yaml:"asset,omitempty"`
}

// CandidateSpec is operator-supplied proof of payment.
type CandidateSpec struct {
	TransactionID string `yaml:"transaction_id"`
	Source        string `yaml:"source,omitempty"`
	Destination   string `yaml:"destination"`
	Amount        string `yaml:"amount"`
	Asset         string `yaml:"asset,omitempty"`
	Age           string `yaml:"age,omitempty"`
}

// ExpectClause checks the outcome of a step. Error is a payment error
// code; the step must fail with it. Status and Reason check the
// order's latest payment afterwards.
type ExpectClause struct {
	Status  string `yaml:"status,omitempty"`
	Reason  string `yaml:"reason,omitempty"`
	Error   string `yaml:"error,omitempty"`
	Watches *int   `yaml:"watches,omitempty"`
}

// Assertion validates the final trace or state.
type Assertion struct {
	// Type is one of event_order, event_count, final_state, watch_count.
	Type string `yaml:"type"`

	// Events is the expected order (event_order).
	Events []string `yaml:"events,omitempty"`

	// Event and Count are used by event_count; Count also by
	// watch_count.
	Event string `yaml:"event,omitempty"`
	Count int    `yaml:"count,omitempty"`

	// Order, Status, OrderStatus and Reason are used by final_state.
	Order       string `yaml:"order,omitempty"`
	Status      string `yaml:"status,omitempty"`
	OrderStatus string `yaml:"order_status,omitempty"`
	Reason      string `yaml:"reason,omitempty"`
}

// Assertion type constants.
const (
	AssertEventOrder = "event_order"
	AssertEventCount = "event_count"
	AssertFinalState = "final_state"
	AssertWatchCount = "watch_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields
// are rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, o := range s.Orders {
		if o.ID == "" || o.Destination == "" {
			return fmt.Errorf("orders[%d]: id and destination are required", i)
		}
		c, err := money.ParseCurrency(o.Currency)
		if err != nil {
			return fmt.Errorf("orders[%d]: %w", i, err)
		}
		if _, err := money.Parse(o.Amount, c); err != nil {
			return fmt.Errorf("orders[%d]: amount %q: %w", i, o.Amount, err)
		}
	}

	for i, step := range s.Flow {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st *Step) error {
	switch st.Do {
	case StepInitiate, StepCancelOrder:
		if st.Order == "" {
			return fmt.Errorf("flow[%d]: order is required for %s", index, st.Do)
		}
	case StepSubmit:
		if st.Tx == nil || st.Tx.ID == "" {
			return fmt.Errorf("flow[%d]: tx with id is required for submit", index)
		}
	case StepDeliver:
		if st.Address == "" || st.Tx == nil || st.Tx.ID == "" {
			return fmt.Errorf("flow[%d]: address and tx are required for deliver", index)
		}
	case StepFailStream:
		if st.Address == "" {
			return fmt.Errorf("flow[%d]: address is required for fail_stream", index)
		}
	case StepAdvance:
		if _, err := time.ParseDuration(st.Duration); err != nil {
			return fmt.Errorf("flow[%d]: invalid duration %q: %w", index, st.Duration, err)
		}
	case StepVerify:
		if st.Order == "" || st.Candidate == nil {
			return fmt.Errorf("flow[%d]: order and candidate are required for verify", index)
		}
	case StepSweep, StepRecover, StepRestart:
	case "":
		return fmt.Errorf("flow[%d]: do is required", index)
	default:
		return fmt.Errorf("flow[%d]: unknown step %q", index, st.Do)
	}

	if st.Expect != nil && (st.Expect.Status != "" || st.Expect.Reason != "") && st.Order == "" {
		return fmt.Errorf("flow[%d].expect: order is required to check a payment", index)
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case AssertEventOrder:
		if len(a.Events) == 0 {
			return fmt.Errorf("assertions[%d]: events list is required for event_order", index)
		}
	case AssertEventCount:
		if a.Event == "" {
			return fmt.Errorf("assertions[%d]: event is required for event_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for event_count", index)
		}
	case AssertFinalState:
		if a.Order == "" {
			return fmt.Errorf("assertions[%d]: order is required for final_state", index)
		}
		if a.Status == "" && a.OrderStatus == "" && a.Reason == "" {
			return fmt.Errorf("assertions[%d]: final_state needs status, order_status or reason", index)
		}
	case AssertWatchCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for watch_count", index)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
