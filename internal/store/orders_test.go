package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
)

func testTerms(id string) payment.OrderTerms {
	return payment.OrderTerms{
		OrderID:            id,
		BuyerID:            "B1",
		Amount:             money.MustParse("100", money.USDC),
		Currency:           money.USDC,
		DestinationAddress: "DST1",
	}
}

func TestAddOrder_AndGetPayable(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	require.NoError(t, s.AddOrder(ctx, testTerms("O1")))

	terms, err := s.GetPayableOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, "B1", terms.BuyerID)
	assert.Equal(t, "100", terms.Amount.Format(money.USDC))
	assert.Equal(t, money.USDC, terms.Currency)
	assert.Equal(t, "DST1", terms.DestinationAddress)
}

func TestAddOrder_Duplicate(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.AddOrder(ctx, testTerms("O1")))

	err := s.AddOrder(ctx, testTerms("O1"))

	assert.ErrorIs(t, err, ErrOrderExists)
}

func TestAddOrder_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	bad := testTerms("O1")
	bad.Currency = "DOGE"
	assert.ErrorIs(t, s.AddOrder(ctx, bad), money.ErrUnsupportedCurrency)

	zero := testTerms("O2")
	zero.Amount = money.FromMinor(0)
	assert.Error(t, s.AddOrder(ctx, zero))
}

func TestGetPayableOrder_States(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	_, err := s.GetPayableOrder(ctx, "missing")
	assert.ErrorIs(t, err, payment.ErrNotFound)

	require.NoError(t, s.AddOrder(ctx, testTerms("O1")))
	require.NoError(t, s.CancelOrder(ctx, "O1"))
	_, err = s.GetPayableOrder(ctx, "O1")
	assert.ErrorIs(t, err, payment.ErrInvalidOrderState)
}

func TestMarkPaid(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	require.NoError(t, s.AddOrder(ctx, testTerms("O1")))

	require.NoError(t, s.MarkPaid(ctx, "O1", "P1"))
	// Same payment again is a no-op.
	require.NoError(t, s.MarkPaid(ctx, "O1", "P1"))
	// A different payment cannot pay it twice.
	assert.Error(t, s.MarkPaid(ctx, "O1", "P2"))

	o, err := s.GetOrder(ctx, "O1")
	require.NoError(t, err)
	assert.Equal(t, OrderPaid, o.Status)
	assert.Equal(t, "P1", o.PaymentID)

	_, err = s.GetPayableOrder(ctx, "O1")
	assert.ErrorIs(t, err, payment.ErrInvalidOrderState)
	assert.Error(t, s.CancelOrder(ctx, "O1"))
}
