package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_EnsureFunded(t *testing.T) {
	l := NewLedger()

	assert.True(t, l.EnsureFunded("u1", 500000))
	assert.False(t, l.EnsureFunded("u1", 999), "second funding must be a no-op")

	bal, ok := l.Balance("u1")
	require.True(t, ok)
	assert.Equal(t, int64(500000), bal)

	_, ok = l.Balance("ghost")
	assert.False(t, ok)
}

func TestLedger_DebitCredit(t *testing.T) {
	l := NewLedger()
	l.EnsureFunded("u1", 1000)

	t.Run("debit within balance", func(t *testing.T) {
		require.NoError(t, l.Debit("u1", 400, "1-0"))
		bal, _ := l.Balance("u1")
		assert.Equal(t, int64(600), bal)
	})

	t.Run("debit above balance is rejected without mutation", func(t *testing.T) {
		err := l.Debit("u1", 601, "2-0")
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		bal, _ := l.Balance("u1")
		assert.Equal(t, int64(600), bal)
	})

	t.Run("debit unknown account", func(t *testing.T) {
		assert.ErrorIs(t, l.Debit("ghost", 1, "3-0"), ErrInsufficientBalance)
	})

	t.Run("credit returns new balance", func(t *testing.T) {
		assert.Equal(t, int64(750), l.Credit("u1", 150, "4-0"))
		assert.Equal(t, int64(10), l.Credit("u2", 10, "5-0"))
	})

	require.NoError(t, l.VerifyAll())
	assert.Equal(t, map[string]int64{"u1": 750, "u2": 10}, l.Snapshot())
	assert.Equal(t, int64(760), l.TotalBalance())
}

func TestBalance_Invariant(t *testing.T) {
	b := &Balance{UserID: "u1", Amount: 5}
	assert.Panics(t, func() { b.Debit(6, "1-0") })

	b.Amount = -1
	assert.Error(t, b.VerifyInvariant())
}
