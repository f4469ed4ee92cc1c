package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/paywatch/internal/clock"
	"github.com/roach88/paywatch/internal/money"
	"github.com/roach88/paywatch/internal/payment"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// createTestStore creates a store in a fresh temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithClock(clock.Fake(t0)))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestPayment returns a PENDING record for orderID.
func createTestPayment(id, orderID string) *payment.Record {
	return &payment.Record{
		ID:                 id,
		OrderID:            orderID,
		BuyerID:            "B1",
		Amount:             money.MustParse("100", money.USDC),
		Currency:           money.USDC,
		DestinationAddress: "DST1",
		Status:             payment.StatusPending,
		TimeoutMinutes:     30,
		CreatedAt:          t0,
		ExpiresAt:          t0.Add(30 * time.Minute),
	}
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := t.Context()

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.Save(ctx, createTestPayment("P1", "O1")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.FindByID(ctx, "P1")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, got.Status)
}
