// Package ledger holds the fungible token balances and the escrows backing them.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/auth"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// MaxAllowance never decreases when spent.
var MaxAllowance = new(uint256.Int).SetAllOne()

// Token is a mintable and burnable fungible token on one domain.
// Minting is ward-only; burning from another account spends allowance.
// A token loaded from a table writes every change through to it before applying it in memory.
type Token struct {
	log    log.Logger
	symbol string
	*auth.Wards

	mu         sync.RWMutex
	table      *store.Table
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[common.Address]map[common.Address]*uint256.Int
}

const (
	supplyKey       = "supply"
	balancePrefix   = "balance"
	allowancePrefix = "allowance"
)

func balanceKey(addr common.Address) string {
	return balancePrefix + "/" + strings.ToLower(addr.Hex())
}

func allowanceKey(owner, spender common.Address) string {
	return allowancePrefix + "/" + strings.ToLower(owner.Hex()) + "/" + strings.ToLower(spender.Hex())
}

// NewToken creates a token that is kept in memory only.
func NewToken(logger log.Logger, symbol string, owner common.Address) *Token {
	return &Token{
		log:        logger.New("token", symbol),
		symbol:     symbol,
		Wards:      auth.NewWards(owner),
		supply:     new(uint256.Int),
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[common.Address]map[common.Address]*uint256.Int),
	}
}

// LoadToken restores the supply, balances and allowances of a token from the table.
// Wards are not persisted: they are granted again when the domain is wired.
func LoadToken(ctx context.Context, logger log.Logger, symbol string, owner common.Address, table *store.Table) (*Token, error) {
	t := NewToken(logger, symbol, owner)
	t.table = table
	entries, err := table.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load %s token: %w", symbol, err)
	}
	for _, e := range entries {
		v := new(uint256.Int).SetBytes(e.Value)
		parts := strings.Split(e.Key, "/")
		switch {
		case len(parts) == 1 && parts[0] == supplyKey:
			t.supply = v
		case len(parts) == 2 && parts[0] == balancePrefix && common.IsHexAddress(parts[1]):
			t.balances[common.HexToAddress(parts[1])] = v
		case len(parts) == 3 && parts[0] == allowancePrefix && common.IsHexAddress(parts[1]) && common.IsHexAddress(parts[2]):
			t.setAllowance(common.HexToAddress(parts[1]), common.HexToAddress(parts[2]), v)
		default:
			return nil, fmt.Errorf("invalid %s token key %q", symbol, e.Key)
		}
	}
	t.log.Debug("Loaded token", "supply", t.supply, "accounts", len(t.balances))
	return t, nil
}

func (t *Token) Symbol() string {
	return t.symbol
}

func (t *Token) TotalSupply() *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.supply.Clone()
}

func (t *Token) BalanceOf(addr common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.balanceOf(addr).Clone()
}

func (t *Token) Allowance(owner, spender common.Address) *uint256.Int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.allowance(owner, spender).Clone()
}

func (t *Token) balanceOf(addr common.Address) *uint256.Int {
	if b, ok := t.balances[addr]; ok {
		return b
	}
	return new(uint256.Int)
}

func (t *Token) allowance(owner, spender common.Address) *uint256.Int {
	if a, ok := t.allowances[owner][spender]; ok {
		return a
	}
	return new(uint256.Int)
}

func (t *Token) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*uint256.Int)
		t.allowances[owner] = m
	}
	m[spender] = amount
}

func (t *Token) Approve(owner, spender common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.change()
	c.setAllowance(owner, spender, amount.Clone())
	return c.commit()
}

func (t *Token) Mint(caller, to common.Address, amount *uint256.Int) error {
	if err := t.Check(caller); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	supply, overflow := new(uint256.Int).AddOverflow(t.supply, amount)
	if overflow {
		return fmt.Errorf("%w: supply overflow", types.ErrInvalidAmount)
	}
	c := t.change()
	c.supply = supply
	c.balances[to] = new(uint256.Int).Add(c.balance(to), amount)
	if err := c.commit(); err != nil {
		return err
	}
	t.log.Trace("Minted", "to", to, "amount", amount)
	return nil
}

// Burn destroys amount from the account. The balance is checked before the allowance.
func (t *Token) Burn(caller, from common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.change()
	if err := c.spend(caller, from, amount); err != nil {
		return err
	}
	c.supply = new(uint256.Int).Sub(t.supply, amount)
	if err := c.commit(); err != nil {
		return err
	}
	t.log.Trace("Burned", "from", from, "amount", amount)
	return nil
}

func (t *Token) Transfer(from, to common.Address, amount *uint256.Int) error {
	return t.TransferFrom(from, from, to, amount)
}

func (t *Token) TransferFrom(caller, from, to common.Address, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.change()
	if err := c.spend(caller, from, amount); err != nil {
		return err
	}
	c.balances[to] = new(uint256.Int).Add(c.balance(to), amount)
	return c.commit()
}

type allowancePair struct {
	owner, spender common.Address
}

// change collects the new values of one operation, so that they are persisted
// together and applied only once persisted.
type change struct {
	t          *Token
	supply     *uint256.Int
	balances   map[common.Address]*uint256.Int
	allowances map[allowancePair]*uint256.Int
}

func (t *Token) change() *change {
	return &change{
		t:          t,
		balances:   make(map[common.Address]*uint256.Int),
		allowances: make(map[allowancePair]*uint256.Int),
	}
}

func (c *change) balance(addr common.Address) *uint256.Int {
	if v, ok := c.balances[addr]; ok {
		return v
	}
	return c.t.balanceOf(addr)
}

func (c *change) setAllowance(owner, spender common.Address, amount *uint256.Int) {
	c.allowances[allowancePair{owner, spender}] = amount
}

// spend debits the balance of from, and the allowance of caller if it is not the owner.
// Nothing is recorded if either check fails.
func (c *change) spend(caller, from common.Address, amount *uint256.Int) error {
	bal := c.balance(from)
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %v, needs %v", types.ErrInsufficientBalance, from, bal, amount)
	}
	if caller != from {
		allowed := c.t.allowance(from, caller)
		if allowed.Lt(amount) {
			return fmt.Errorf("%w: %s allowed %v to %s, needs %v", types.ErrInsufficientAllowance, from, allowed, caller, amount)
		}
		if !allowed.Eq(MaxAllowance) {
			c.setAllowance(from, caller, new(uint256.Int).Sub(allowed, amount))
		}
	}
	c.balances[from] = new(uint256.Int).Sub(bal, amount)
	return nil
}

func (c *change) commit() error {
	t := c.t
	if t.table != nil {
		var entries []store.Entry
		if c.supply != nil {
			entries = append(entries, store.Entry{Key: supplyKey, Value: c.supply.Bytes()})
		}
		for addr, v := range c.balances {
			entries = append(entries, store.Entry{Key: balanceKey(addr), Value: v.Bytes()})
		}
		for p, v := range c.allowances {
			entries = append(entries, store.Entry{Key: allowanceKey(p.owner, p.spender), Value: v.Bytes()})
		}
		// token calls carry no context; the store write is local
		if err := t.table.PutAll(context.Background(), entries...); err != nil {
			return fmt.Errorf("failed to persist %s balances: %w", t.symbol, err)
		}
	}
	if c.supply != nil {
		t.supply = c.supply
	}
	for addr, v := range c.balances {
		t.balances[addr] = v
	}
	for p, v := range c.allowances {
		t.setAllowance(p.owner, p.spender, v)
	}
	return nil
}
