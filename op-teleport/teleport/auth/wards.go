// Package auth implements the ward set that guards owner operations.
package auth

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Wards is the set of addresses allowed to call owner operations.
// Wards can rely (add) and deny (remove) other wards.
type Wards struct {
	mu    sync.RWMutex
	wards map[common.Address]struct{}
}

func NewWards(initial ...common.Address) *Wards {
	w := &Wards{wards: make(map[common.Address]struct{})}
	for _, addr := range initial {
		w.wards[addr] = struct{}{}
	}
	return w
}

func (w *Wards) IsWard(addr common.Address) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.wards[addr]
	return ok
}

// Check returns ErrNotAuthorized if caller is not a ward.
func (w *Wards) Check(caller common.Address) error {
	if !w.IsWard(caller) {
		return fmt.Errorf("%w: %s", types.ErrNotAuthorized, caller)
	}
	return nil
}

func (w *Wards) Rely(caller, usr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.wards[caller]; !ok {
		return fmt.Errorf("%w: %s", types.ErrNotAuthorized, caller)
	}
	w.wards[usr] = struct{}{}
	return nil
}

func (w *Wards) Deny(caller, usr common.Address) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.wards[caller]; !ok {
		return fmt.Errorf("%w: %s", types.ErrNotAuthorized, caller)
	}
	delete(w.wards, usr)
	return nil
}
