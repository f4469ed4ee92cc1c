// Package money holds settlement currencies and fixed-point amounts.
//
// Amounts are arbitrary precision integers of minor units. The number
// of minor units per whole unit is fixed per currency (its scale), so
// arithmetic and comparison never touch floating point. Decimal text
// crosses the boundary through shopspring/decimal.
package money

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies a supported settlement asset.
type Currency string

const (
	// XLM is the ledger's native asset. Native payments carry no asset code.
	XLM Currency = "XLM"
	// USDC is an issued dollar stablecoin.
	USDC Currency = "USDC"
	// EURC is an issued euro stablecoin.
	EURC Currency = "EURC"
)

// currencyInfo describes how a currency is represented on the ledger.
type currencyInfo struct {
	scale  int32
	native bool
}

var currencies = map[Currency]currencyInfo{
	XLM:  {scale: 7, native: true},
	USDC: {scale: 7},
	EURC: {scale: 7},
}

// ErrUnsupportedCurrency is returned for currency codes outside the table.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// ErrMalformedAmount is returned when text is not a valid amount.
var ErrMalformedAmount = errors.New("malformed amount")

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := currencies[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
	}
	return c, nil
}

// Currencies returns every supported currency in lexical order.
func Currencies() []Currency {
	out := make([]Currency, 0, len(currencies))
	for c := range currencies {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Valid reports whether c is supported.
func (c Currency) Valid() bool {
	_, ok := currencies[c]
	return ok
}

// Scale is the number of fractional digits of one minor unit.
func (c Currency) Scale() int32 { return currencies[c].scale }

// Native reports whether c is the ledger's native asset.
func (c Currency) Native() bool { return currencies[c].native }

// Code is the asset code carried by ledger operations paying c. It is
// empty for the native asset.
func (c Currency) Code() string {
	if c.Native() {
		return ""
	}
	return string(c)
}

func (c Currency) String() string { return string(c) }

// Amount is a quantity of minor units. The zero value is zero.
type Amount struct {
	units *big.Int
}

// FromMinor returns an Amount of n minor units.
func FromMinor(n int64) Amount {
	return Amount{units: big.NewInt(n)}
}

// FromBigInt returns an Amount of n minor units. n is copied.
func FromBigInt(n *big.Int) Amount {
	return Amount{units: new(big.Int).Set(n)}
}

// Parse converts decimal text in whole units of c into minor units.
// Text with more fractional digits than c's scale is rejected rather
// than rounded.
func Parse(s string, c Currency) (Amount, error) {
	if !c.Valid() {
		return Amount{}, fmt.Errorf("%w: %q", ErrUnsupportedCurrency, string(c))
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("%w: %q", ErrMalformedAmount, s)
	}
	shifted := d.Shift(c.Scale())
	if !shifted.Equal(shifted.Truncate(0)) {
		return Amount{}, fmt.Errorf("%w: %q exceeds %d decimal places", ErrMalformedAmount, s, c.Scale())
	}
	return Amount{units: shifted.BigInt()}, nil
}

// MustParse is Parse for constants and tests. Panics on error.
func MustParse(s string, c Currency) Amount {
	a, err := Parse(s, c)
	if err != nil {
		panic(err)
	}
	return a
}

// ParseMinor parses a base-10 count of minor units as stored.
func ParseMinor(s string) (Amount, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Amount{}, fmt.Errorf("%w: minor units %q", ErrMalformedAmount, s)
	}
	return Amount{units: n}, nil
}

// Tolerance is the absolute matching tolerance of 0.0001 whole units,
// expressed in c's minor units.
func Tolerance(c Currency) Amount {
	d := decimal.New(1, -4).Shift(c.Scale()).Truncate(0)
	return Amount{units: d.BigInt()}
}

func (a Amount) int() *big.Int {
	if a.units == nil {
		return new(big.Int)
	}
	return a.units
}

// Minor returns a copy of the minor unit count.
func (a Amount) Minor() *big.Int { return new(big.Int).Set(a.int()) }

// MinorString is the base-10 minor unit count used for storage.
func (a Amount) MinorString() string { return a.int().String() }

// Sign returns -1, 0 or +1.
func (a Amount) Sign() int { return a.int().Sign() }

// Cmp compares a and b.
func (a Amount) Cmp(b Amount) int { return a.int().Cmp(b.int()) }

// Equal reports whether a and b hold the same number of minor units.
func (a Amount) Equal(b Amount) bool { return a.Cmp(b) == 0 }

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{units: new(big.Int).Add(a.int(), b.int())}
}

// Sub returns a-b.
func (a Amount) Sub(b Amount) Amount {
	return Amount{units: new(big.Int).Sub(a.int(), b.int())}
}

// Abs returns |a|.
func (a Amount) Abs() Amount {
	return Amount{units: new(big.Int).Abs(a.int())}
}

// Decimal returns a in whole units of c.
func (a Amount) Decimal(c Currency) decimal.Decimal {
	return decimal.NewFromBigInt(a.int(), -c.Scale())
}

// Format renders a in whole units of c with trailing zeros trimmed.
func (a Amount) Format(c Currency) string {
	return a.Decimal(c).String()
}
