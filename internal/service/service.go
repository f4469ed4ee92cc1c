// Package service wires the payment engine together: the SQLite store,
// the lifecycle manager, the watch registry, the sweeper and the event
// bus. It exposes the operations callers (the CLI, an HTTP layer) use
// and owns startup recovery and shutdown.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/config"
	"github.com/roach88/paywatch/internal/events"
	"github.com/roach88/paywatch/internal/ledger"
	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
	"github.com/roach88/paywatch/internal/store"
	"github.com/roach88/paywatch/internal/watch"
)

// Service is the composed engine.
type Service struct {
	store   *store.Store
	manager *payment.Manager
	monitor *watch.Monitor
	sweeper *watch.Sweeper
	bus     *events.Bus

	settings settings

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type settings struct {
	clock          clock.Clock
	logger         *slog.Logger
	ids            payment.IDGenerator
	defaultTimeout int
	sweepInterval  time.Duration
	retryDelay     time.Duration
	eventBuffer    int
	syncEvents     bool
}

// Option configures a Service.
type Option func(*settings)

// WithClock sets the clock for every component.
func WithClock(c clock.Clock) Option { return func(s *settings) { s.clock = c } }

// WithLogger sets the logger for every component.
func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }

// WithIDGenerator sets the payment id generator.
func WithIDGenerator(g payment.IDGenerator) Option { return func(s *settings) { s.ids = g } }

// WithSynchronousEvents delivers events inline instead of on the bus
// goroutine.
func WithSynchronousEvents() Option { return func(s *settings) { s.syncEvents = true } }

// WithConfig applies the tunables of cfg.
func WithConfig(cfg config.Config) Option {
	return func(s *settings) {
		s.defaultTimeout = cfg.DefaultTimeoutMinutes
		s.sweepInterval = cfg.SweepInterval()
		s.retryDelay = cfg.SubscribeRetry()
		s.eventBuffer = cfg.EventBuffer
	}
}

// New composes a service over st and client. The event sequence
// resumes after the last event in the outbox.
func New(ctx context.Context, st *store.Store, client ledger.Client, opts ...Option) (*Service, error) {
	cfg := settings{
		clock:          clock.Real(),
		logger:         slog.Default(),
		ids:            payment.UUIDv7Generator{},
		defaultTimeout: payment.DefaultTimeoutMinutes,
		sweepInterval:  watch.DefaultSweepInterval,
		retryDelay:     watch.DefaultRetryDelay,
		eventBuffer:    events.DefaultBuffer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	lastSeq, err := st.MaxEventSeq(ctx)
	if err != nil {
		return nil, fmt.Errorf("new service: %w", err)
	}

	busOpts := []events.BusOption{
		events.WithSequence(events.NewSequenceAt(lastSeq)),
		events.WithClock(cfg.clock),
		events.WithLogger(cfg.logger),
		events.WithBuffer(cfg.eventBuffer),
		events.WithSink(st),
		events.WithSink(events.LogSink{Logger: cfg.logger, Level: slog.LevelDebug}),
	}
	if cfg.syncEvents {
		busOpts = append(busOpts, events.WithSynchronous())
	}
	bus := events.NewBus(busOpts...)

	manager := payment.NewManager(st, st,
		payment.WithEmitter(bus),
		payment.WithClock(cfg.clock),
		payment.WithIDGenerator(cfg.ids),
		payment.WithLogger(cfg.logger),
		payment.WithDefaultTimeout(cfg.defaultTimeout),
	)
	monitor := watch.NewMonitor(client, manager,
		watch.WithClock(cfg.clock),
		watch.WithLogger(cfg.logger),
		watch.WithRetryDelay(cfg.retryDelay),
	)
	manager.AttachWatcher(monitor)

	sweeper := watch.NewSweeper(st, manager,
		watch.WithSweepClock(cfg.clock),
		watch.WithSweepLogger(cfg.logger),
		watch.WithInterval(cfg.sweepInterval),
		watch.WithAdopter(monitor),
	)

	return &Service{
		store:    st,
		manager:  manager,
		monitor:  monitor,
		sweeper:  sweeper,
		bus:      bus,
		settings: cfg,
	}, nil
}

// Start runs recovery, then the sweep loop and the event bus in the
// background until Shutdown.
func (s *Service) Start(ctx context.Context) (watch.RecoveryReport, error) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return watch.RecoveryReport{}, errors.New("service already started")
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.mu.Unlock()

	if !s.settings.syncEvents {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// Shutdown closes the bus; Run drains and returns nil.
			_ = s.bus.Run(context.WithoutCancel(runCtx))
		}()
	}

	report, err := s.monitor.Recover(ctx, s.store)
	if err != nil {
		return report, fmt.Errorf("start: %w", err)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sweeper.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.settings.logger.Error("sweeper stopped", "error", err)
		}
	}()

	return report, nil
}

// Shutdown stops the sweeper, releases every watch and drains the
// event bus. Safe to call without Start.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	report, err := s.monitor.Shutdown(ctx)
	s.bus.Close()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	s.settings.logger.Info("service stopped",
		"watches_released", report.Released,
		"watches_failed", report.Failed,
		"events_delivered", s.bus.Delivered(),
		"events_dropped", s.bus.Dropped())
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// AddOrder registers a payable order.
func (s *Service) AddOrder(ctx context.Context, t payment.OrderTerms) error {
	return s.store.AddOrder(ctx, t)
}

// GetOrder returns an order.
func (s *Service) GetOrder(ctx context.Context, orderID string) (store.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// InitiatePayment starts (or returns the pending) payment of an order.
// A nil timeout uses the configured default.
func (s *Service) InitiatePayment(ctx context.Context, orderID string, currency money.Currency, timeoutMinutes *int) (*payment.Record, error) {
	return s.manager.Initiate(ctx, payment.InitiateRequest{
		OrderID:        orderID,
		Currency:       currency,
		TimeoutMinutes: timeoutMinutes,
	})
}

// GetPayment returns a payment by id.
func (s *Service) GetPayment(ctx context.Context, paymentID string) (*payment.Record, error) {
	return s.manager.Get(ctx, paymentID)
}

// GetPaymentByOrder returns the latest payment of an order.
func (s *Service) GetPaymentByOrder(ctx context.Context, orderID string) (*payment.Record, error) {
	return s.manager.GetByOrder(ctx, orderID)
}

// ManuallyVerify confirms a payment from an operator-supplied
// candidate. See payment.Manager.ManuallyVerify.
func (s *Service) ManuallyVerify(ctx context.Context, paymentID string, c payment.Candidate) (*payment.Record, error) {
	return s.manager.ManuallyVerify(ctx, paymentID, c)
}

// GetStats aggregates a buyer's payments.
func (s *Service) GetStats(ctx context.Context, buyerID string) (payment.Stats, error) {
	return s.manager.Stats(ctx, buyerID)
}

// GetActiveWatchCount returns the number of active watches.
func (s *Service) GetActiveWatchCount() int {
	return s.monitor.Count()
}

// Sweep runs one timeout sweep now.
func (s *Service) Sweep(ctx context.Context) (watch.SweepResult, error) {
	return s.sweeper.Sweep(ctx)
}

// Recover rebuilds the watch registry without starting background
// loops. Start calls it.
func (s *Service) Recover(ctx context.Context) (watch.RecoveryReport, error) {
	return s.monitor.Recover(ctx, s.store)
}

// Events lists outbox events.
func (s *Service) Events(ctx context.Context, f store.EventFilter) ([]events.Event, error) {
	return s.store.ListEvents(ctx, f)
}
