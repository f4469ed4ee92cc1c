package events

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/roach88/paywatch/internal/clock"
)

// DefaultBuffer is the queue capacity when none is configured.
const DefaultBuffer = 1024

// Bus fans emitted events out to sinks.
//
// In the default asynchronous mode Emit only enqueues and Run delivers.
// In synchronous mode (WithSynchronous) Emit delivers on the caller's
// goroutine; one-shot CLI commands and the scenario harness use it to
// get a deterministic trace without a Run loop.
type Bus struct {
	queue  *queue
	seq    *Sequence
	clock  clock.Clock
	sinks  []Sink
	logger *slog.Logger
	sync   bool

	dropped   atomic.Int64
	delivered atomic.Int64
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithSink adds a sink. Sinks run in the order added.
func WithSink(s Sink) BusOption { return func(b *Bus) { b.sinks = append(b.sinks, s) } }

// WithSequence sets the sequence, e.g. one resumed from the outbox.
func WithSequence(s *Sequence) BusOption { return func(b *Bus) { b.seq = s } }

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) BusOption { return func(b *Bus) { b.clock = c } }

// WithLogger sets the logger for delivery failures.
func WithLogger(l *slog.Logger) BusOption { return func(b *Bus) { b.logger = l } }

// WithBuffer bounds the queue. Events emitted into a full queue are
// dropped and counted.
func WithBuffer(n int) BusOption { return func(b *Bus) { b.queue = newQueue(n) } }

// WithSynchronous makes Emit deliver inline.
func WithSynchronous() BusOption { return func(b *Bus) { b.sync = true } }

// NewBus returns a bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		queue:  newQueue(DefaultBuffer),
		seq:    NewSequence(),
		clock:  clock.Real(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Emit stamps and queues an event. It never blocks on sinks.
func (b *Bus) Emit(ctx context.Context, name string, payload map[string]any) {
	e, err := newEvent(b.seq.Next(), name, b.clock.Now(), payload)
	if err != nil {
		b.logger.Warn("event payload not canonical, using random id", "event", name, "error", err)
	}

	if b.sync {
		b.deliver(ctx, e)
		return
	}
	if !b.queue.enqueue(e) {
		b.dropped.Add(1)
		b.logger.Warn("event dropped", "event", name, "seq", e.Seq, "closed", b.queue.isClosed())
	}
}

// Run delivers queued events until ctx is cancelled or Close is
// called. After Close it drains whatever is still queued and returns
// nil; on cancellation it returns ctx.Err().
func (b *Bus) Run(ctx context.Context) error {
	for {
		b.drain(ctx)
		if b.queue.isClosed() {
			// Catch anything enqueued between the drain and close.
			b.drain(ctx)
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.queue.wait():
		}
	}
}

// Close stops accepting events. A running Run drains and returns.
func (b *Bus) Close() {
	b.queue.close()
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int { return b.queue.len() }

// Dropped returns the number of events lost to a full or closed queue.
func (b *Bus) Dropped() int64 { return b.dropped.Load() }

// Delivered returns the number of events handed to the sinks.
func (b *Bus) Delivered() int64 { return b.delivered.Load() }

func (b *Bus) drain(ctx context.Context) {
	for {
		e, ok := b.queue.tryDequeue()
		if !ok {
			return
		}
		b.deliver(ctx, e)
	}
}

func (b *Bus) deliver(ctx context.Context, e Event) {
	for _, s := range b.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			b.logger.Error("event sink failed", "event", e.Name, "seq", e.Seq, "error", err)
		}
	}
	b.delivered.Add(1)
}
