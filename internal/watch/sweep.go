package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/payment"
)

// DefaultSweepInterval is how often Run sweeps when not configured.
const DefaultSweepInterval = 2 * time.Minute

// PendingSource lists PENDING payments. payment.Store satisfies it.
type PendingSource interface {
	FindPending(ctx context.Context) ([]*payment.Record, error)
}

// Adopter starts watches for pending payments the registry does not
// cover. Monitor satisfies it.
type Adopter interface {
	Adopt(ctx context.Context, pending []*payment.Record) int
}

// SweepResult counts one sweep.
type SweepResult struct {
	Scanned  int
	Expired  int
	TimedOut int
	Adopted  int
	Errors   int
}

// Sweeper times out expired PENDING payments independently of the
// per-watch timers, healing timers lost to restarts or drift. With an
// Adopter it also heals the registry.
type Sweeper struct {
	source   PendingSource
	payments Reconciler
	adopter  Adopter
	clock    clock.Clock
	logger   *slog.Logger
	interval time.Duration
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepClock sets the sweeper's clock.
func WithSweepClock(c clock.Clock) SweeperOption { return func(s *Sweeper) { s.clock = c } }

// WithSweepLogger sets the sweeper's logger.
func WithSweepLogger(l *slog.Logger) SweeperOption { return func(s *Sweeper) { s.logger = l } }

// WithAdopter makes every sweep hand the pending list to a, so
// payments initiated elsewhere get watched.
func WithAdopter(a Adopter) SweeperOption { return func(s *Sweeper) { s.adopter = a } }

// WithInterval sets the period of Run.
func WithInterval(d time.Duration) SweeperOption { return func(s *Sweeper) { s.interval = d } }

// NewSweeper returns a sweeper.
func NewSweeper(source PendingSource, payments Reconciler, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{
		source:   source,
		payments: payments,
		clock:    clock.Real(),
		logger:   slog.Default(),
		interval: DefaultSweepInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Sweep runs once. It returns an error only when the pending list
// cannot be loaded; per-payment failures are logged and counted.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	pending, err := s.source.FindPending(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("sweep: %w", err)
	}

	now := s.clock.Now()
	result := SweepResult{Scanned: len(pending)}
	for _, rec := range pending {
		if !rec.Expired(now) {
			continue
		}
		result.Expired++
		updated, err := s.payments.Timeout(ctx, rec.ID)
		if err != nil {
			if payment.IsNotFound(err) {
				continue
			}
			result.Errors++
			s.logger.Error("sweep timeout failed", "payment_id", rec.ID, "error", err)
			continue
		}
		if updated.Status == payment.StatusTimeout {
			result.TimedOut++
		}
	}

	if s.adopter != nil {
		result.Adopted = s.adopter.Adopt(ctx, pending)
	}

	if result.Expired > 0 || result.Adopted > 0 {
		s.logger.Info("sweep finished", "scanned", result.Scanned, "expired", result.Expired, "timed_out", result.TimedOut, "adopted", result.Adopted, "errors", result.Errors)
	} else {
		s.logger.Debug("sweep finished", "scanned", result.Scanned)
	}
	return result, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
		}
	}
}
