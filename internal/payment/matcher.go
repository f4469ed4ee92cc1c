package payment

import (
	"fmt"
	"time"

	"github.com/roach88/paywatch/internal/money"
)

// RejectCode classifies why a candidate did not match.
type RejectCode string

const (
	RejectDestination RejectCode = "DESTINATION_MISMATCH"
	RejectAmount      RejectCode = "AMOUNT_MISMATCH"
	RejectMalformed   RejectCode = "MALFORMED_AMOUNT"
	RejectAsset       RejectCode = "ASSET_MISMATCH"
	RejectStale       RejectCode = "STALE_TRANSACTION"
)

// MatchResult is the verdict of Match. Code and Reason are empty when
// OK is true.
type MatchResult struct {
	OK     bool
	Code   RejectCode
	Reason string
}

func reject(code RejectCode, format string, args ...any) MatchResult {
	return MatchResult{Code: code, Reason: fmt.Sprintf(format, args...)}
}

// Match decides whether c pays rec as of now.
//
// All checks are required:
//  1. destination equals rec.DestinationAddress
//  2. amount equals rec.Amount within money.Tolerance (absolute, never
//     a percentage; the threshold itself matches)
//  3. asset code equals rec.Currency, except that a native-asset record
//     accepts a candidate with no asset code
//  4. the timestamp is not older than the payment window before now
//
// Match is pure: no I/O, no clock reads.
func Match(rec *Record, c Candidate, now time.Time) MatchResult {
	if c.Destination != rec.DestinationAddress {
		return reject(RejectDestination, "destination mismatch: expected %s, got %s",
			rec.DestinationAddress, c.Destination)
	}

	got, err := money.Parse(c.Amount, rec.Currency)
	if err != nil {
		return reject(RejectMalformed, "malformed amount %q for %s", c.Amount, rec.Currency)
	}
	tolerance := money.Tolerance(rec.Currency)
	if got.Sub(rec.Amount).Abs().Cmp(tolerance) > 0 {
		return reject(RejectAmount, "amount mismatch: expected %s, got %s (tolerance %s)",
			rec.Amount.Format(rec.Currency), got.Format(rec.Currency), tolerance.Format(rec.Currency))
	}

	if !(rec.Currency.Native() && c.AssetCode == "") && c.AssetCode != string(rec.Currency) {
		asset := c.AssetCode
		if asset == "" {
			asset = "native"
		}
		return reject(RejectAsset, "asset mismatch: expected %s, got %s", rec.Currency, asset)
	}

	cutoff := now.Add(-rec.Window())
	if c.Timestamp.IsZero() || c.Timestamp.Before(cutoff) {
		return reject(RejectStale, "stale transaction: %s is older than the %d minute window",
			c.Timestamp.UTC().Format(time.RFC3339), rec.TimeoutMinutes)
	}

	return MatchResult{OK: true}
}
