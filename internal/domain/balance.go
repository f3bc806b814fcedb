package domain

import (
	"cfd_engine/pkg/safe"
	"fmt"
	"sort"
)

// Balance is one user's free collateral in money units.
type Balance struct {
	UserID       string `json:"userId"`
	Amount       int64  `json:"amount"`
	LastStreamID string `json:"last_stream_id"` // Last ingest entry that modified this
}

// Credit adds funds to the balance. Panics on overflow.
func (b *Balance) Credit(amount int64, streamID string) {
	b.Amount = safe.SafeAdd(b.Amount, amount)
	b.LastStreamID = streamID
}

// Debit removes funds from the balance. Panics if insufficient; callers check first.
func (b *Balance) Debit(amount int64, streamID string) {
	if amount > b.Amount {
		panic(fmt.Sprintf("BALANCE_INSUFFICIENT: %s need %d, available %d",
			b.UserID, amount, b.Amount))
	}
	b.Amount = safe.SafeSub(b.Amount, amount)
	b.LastStreamID = streamID
}

// VerifyInvariant checks that the balance never went negative.
func (b *Balance) VerifyInvariant() error {
	if b.Amount < 0 {
		return fmt.Errorf("BALANCE_INVARIANT_NEGATIVE_AMOUNT: %s = %d", b.UserID, b.Amount)
	}
	return nil
}

// Ledger maps users to free balances.
// Not safe for concurrent use; the engine serializes access.
type Ledger struct {
	balances map[string]*Balance
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		balances: make(map[string]*Balance),
	}
}

// EnsureFunded creates the account with amount if it does not exist yet.
// Returns true when the account was created.
func (l *Ledger) EnsureFunded(userID string, amount int64) bool {
	if _, ok := l.balances[userID]; ok {
		return false
	}
	l.balances[userID] = &Balance{UserID: userID, Amount: amount}
	return true
}

// Balance returns the free balance of a user.
func (l *Ledger) Balance(userID string) (int64, bool) {
	b, ok := l.balances[userID]
	if !ok {
		return 0, false
	}
	return b.Amount, true
}

// Debit removes amount from the user's free balance.
func (l *Ledger) Debit(userID string, amount int64, streamID string) error {
	b, ok := l.balances[userID]
	if !ok || b.Amount < amount {
		return ErrInsufficientBalance
	}
	b.Debit(amount, streamID)
	return nil
}

// Credit adds amount to the user's free balance, creating the account at zero if needed.
func (l *Ledger) Credit(userID string, amount int64, streamID string) int64 {
	b, ok := l.balances[userID]
	if !ok {
		b = &Balance{UserID: userID}
		l.balances[userID] = b
	}
	b.Credit(amount, streamID)
	return b.Amount
}

// VerifyAll checks invariants on all balances, in user order.
func (l *Ledger) VerifyAll() error {
	ids := make([]string, 0, len(l.balances))
	for id := range l.balances {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := l.balances[id].VerifyInvariant(); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot returns a copy of all balances (for state dump).
func (l *Ledger) Snapshot() map[string]int64 {
	result := make(map[string]int64, len(l.balances))
	for k, v := range l.balances {
		result[k] = v.Amount
	}
	return result
}

// TotalBalance sums every free balance. Panics on overflow.
func (l *Ledger) TotalBalance() int64 {
	var total int64
	for _, b := range l.balances {
		total = safe.SafeAdd(total, b.Amount)
	}
	return total
}
