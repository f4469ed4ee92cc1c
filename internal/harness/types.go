package harness

// TraceEvent is one outbox event as seen by assertions and golden
// files.
type TraceEvent struct {
	Seq     int64          `json:"seq"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace is the event outbox in seq order.
	Trace []TraceEvent `json:"trace"`

	// Errors lists failed expectations. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Payments maps order id to the status of its latest payment.
	Payments map[string]string `json:"payments,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Trace:    []TraceEvent{},
		Errors:   []string{},
		Payments: make(map[string]string),
	}
}

// AddError records a failure and marks the result failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// EventNames returns the trace event names in order.
func (r *Result) EventNames() []string {
	names := make([]string, len(r.Trace))
	for i, e := range r.Trace {
		names[i] = e.Name
	}
	return names
}
