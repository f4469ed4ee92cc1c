package events

import (
	"context"
	"log/slog"
	"sync"
)

// Sink receives delivered events.
type Sink interface {
	Deliver(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

// Deliver calls f.
func (f SinkFunc) Deliver(ctx context.Context, e Event) error { return f(ctx, e) }

// LogSink writes each event as a structured log record.
type LogSink struct {
	Logger *slog.Logger
	Level  slog.Level
}

// Deliver implements Sink.
func (s LogSink) Deliver(ctx context.Context, e Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []any{"seq", e.Seq, "event_id", e.ID}
	if e.PaymentID != "" {
		attrs = append(attrs, "payment_id", e.PaymentID)
	}
	if e.OrderID != "" {
		attrs = append(attrs, "order_id", e.OrderID)
	}
	if status, ok := e.Payload["status"]; ok {
		attrs = append(attrs, "status", status)
	}
	logger.Log(ctx, s.Level, "event "+e.Name, attrs...)
	return nil
}

// Memory keeps delivered events in memory. Safe for concurrent use.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// Deliver implements Sink.
func (m *Memory) Deliver(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// Events returns a copy of the delivered events.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}
