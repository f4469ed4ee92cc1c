package watch

import (
	"context"
	"fmt"
)

// RecoveryReport counts what Recover did.
type RecoveryReport struct {
	Pending  int
	Watched  int
	TimedOut int
	Errors   int
}

// Recover rebuilds the registry after a restart. Every unexpired
// PENDING payment is watched again; every expired one is timed out
// without opening a subscription.
func (m *Monitor) Recover(ctx context.Context, source PendingSource) (RecoveryReport, error) {
	pending, err := source.FindPending(ctx)
	if err != nil {
		return RecoveryReport{}, fmt.Errorf("recover: %w", err)
	}

	report := RecoveryReport{Pending: len(pending)}
	now := m.clock.Now()
	for _, rec := range pending {
		if rec.Expired(now) {
			if _, err := m.payments.Timeout(ctx, rec.ID); err != nil {
				report.Errors++
				m.logAutomaticError("recovery timeout", rec.ID, err)
				continue
			}
			report.TimedOut++
			continue
		}
		m.StartWatching(ctx, rec.ID, rec.DestinationAddress, rec.ExpiresAt)
		report.Watched++
	}

	m.logger.Info("recovery finished",
		"pending", report.Pending,
		"watched", report.Watched,
		"timed_out", report.TimedOut,
		"errors", report.Errors)
	return report, nil
}
