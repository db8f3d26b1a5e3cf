// Package debt tracks un-settled amounts per domain.
package debt

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Ledger is a running total per domain that never goes negative.
// Every change is written through to the backing table before it is applied in memory.
type Ledger struct {
	mu    sync.Mutex
	table *store.Table
	debts map[types.Domain]*uint256.Int
}

// Load restores a ledger from the table.
func Load(ctx context.Context, table *store.Table) (*Ledger, error) {
	l := &Ledger{table: table, debts: make(map[types.Domain]*uint256.Int)}
	entries, err := table.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load debt ledger: %w", err)
	}
	for _, e := range entries {
		var d types.Domain
		if err := d.UnmarshalText([]byte(e.Key)); err != nil {
			return nil, fmt.Errorf("invalid debt ledger key %q: %w", e.Key, err)
		}
		l.debts[d] = new(uint256.Int).SetBytes(e.Value)
	}
	return l, nil
}

func key(d types.Domain) string {
	return hexutil.Encode(d[:])
}

func (l *Ledger) get(d types.Domain) *uint256.Int {
	if v, ok := l.debts[d]; ok {
		return v
	}
	return new(uint256.Int)
}

func (l *Ledger) set(ctx context.Context, d types.Domain, v *uint256.Int) error {
	if err := l.table.Put(ctx, key(d), v.Bytes()); err != nil {
		return fmt.Errorf("failed to persist debt of %s: %w", d, err)
	}
	l.debts[d] = v
	return nil
}

// Get returns the current amount for the domain.
func (l *Ledger) Get(d types.Domain) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.get(d).Clone()
}

// Add increases the amount for the domain and returns the new total.
func (l *Ledger) Add(ctx context.Context, d types.Domain, amount *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next, overflow := new(uint256.Int).AddOverflow(l.get(d), amount)
	if overflow {
		return nil, fmt.Errorf("%w: debt of %s overflows", types.ErrInvalidAmount, d)
	}
	if err := l.set(ctx, d, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// Sub decreases the amount for the domain. It fails with ErrDebtUnderflow rather than go negative.
func (l *Ledger) Sub(ctx context.Context, d types.Domain, amount *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.get(d)
	if cur.Lt(amount) {
		return nil, fmt.Errorf("%w: %s owes %v, settling %v", types.ErrDebtUnderflow, d, cur, amount)
	}
	next := new(uint256.Int).Sub(cur, amount)
	if err := l.set(ctx, d, next); err != nil {
		return nil, err
	}
	return next.Clone(), nil
}

// SubUpTo decreases the amount for the domain by at most amount, and returns what was subtracted.
func (l *Ledger) SubUpTo(ctx context.Context, d types.Domain, amount *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.get(d)
	taken := amount.Clone()
	if cur.Lt(amount) {
		taken = cur.Clone()
	}
	if err := l.set(ctx, d, new(uint256.Int).Sub(cur, taken)); err != nil {
		return nil, err
	}
	return taken, nil
}

// Take reads and zeroes the amount for the domain in one step.
func (l *Ledger) Take(ctx context.Context, d types.Domain) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur := l.get(d)
	if cur.IsZero() {
		return nil, fmt.Errorf("%w: %s", types.ErrNothingToFlush, d)
	}
	if err := l.set(ctx, d, new(uint256.Int)); err != nil {
		return nil, err
	}
	return cur.Clone(), nil
}

// Snapshot copies all non-zero amounts.
func (l *Ledger) Snapshot() map[types.Domain]*uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[types.Domain]*uint256.Int, len(l.debts))
	for d, v := range l.debts {
		if !v.IsZero() {
			out[d] = v.Clone()
		}
	}
	return out
}
