// Package wallet implements the per-VID prepaid balance service.
package wallet

import (
	"sync"

	"github.com/ocx/evcentral/internal/apperr"
)

// Wallet holds a non-negative balance per VID. A deduction that would take
// the balance negative fails atomically and leaves it unchanged.
type Wallet struct {
	mu       sync.Mutex
	balances map[string]float64
}

// New creates an empty wallet service.
func New() *Wallet {
	return &Wallet{balances: make(map[string]float64)}
}

// Balance returns the current balance for vid, defaulting to 0 when unseen.
func (w *Wallet) Balance(vid string) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balances[vid]
}

// TopUp adds amount to vid's balance and returns the new balance.
func (w *Wallet) TopUp(vid string, amount float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[vid] += amount
	return w.balances[vid]
}

// Deduct subtracts amount from vid's balance. Returns apperr.InsufficientFunds
// when amount exceeds the current balance, leaving it unchanged.
func (w *Wallet) Deduct(vid string, amount float64) (float64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if amount > w.balances[vid] {
		return w.balances[vid], apperr.InsufficientFunds
	}
	w.balances[vid] -= amount
	return w.balances[vid], nil
}
