package payment

import (
	"sort"

	"github.com/roach88/paywatch/internal/money"
)

// Stats summarizes a buyer's payments.
type Stats struct {
	BuyerID   string `json:"buyer_id"`
	Total     int    `json:"total"`
	Confirmed int    `json:"confirmed"`
	Pending   int    `json:"pending"`
	Failed    int    `json:"failed"`
	Timeout   int    `json:"timeout"`
	// TotalConfirmed sums confirmed amounts per currency as decimal
	// strings. Amounts in different assets are never added together.
	TotalConfirmed map[money.Currency]string `json:"total_confirmed"`
}

// Aggregate computes Stats over recs.
func Aggregate(buyerID string, recs []*Record) Stats {
	s := Stats{BuyerID: buyerID, TotalConfirmed: make(map[money.Currency]string)}
	sums := make(map[money.Currency]money.Amount)
	for _, rec := range recs {
		s.Total++
		switch rec.Status {
		case StatusConfirmed:
			s.Confirmed++
			sum, ok := sums[rec.Currency]
			if !ok {
				sum = money.FromMinor(0)
			}
			sums[rec.Currency] = sum.Add(rec.Amount)
		case StatusPending:
			s.Pending++
		case StatusFailed:
			s.Failed++
		case StatusTimeout:
			s.Timeout++
		}
	}
	for c, sum := range sums {
		s.TotalConfirmed[c] = sum.Format(c)
	}
	return s
}

// Currencies returns the currencies of TotalConfirmed in sorted order.
func (s Stats) Currencies() []money.Currency {
	out := make([]money.Currency, 0, len(s.TotalConfirmed))
	for c := range s.TotalConfirmed {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
