package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// ValidDomains is the only parameter the registry accepts through File.
const ValidDomains = "valid_domains"

// Registry is the whitelist of target domains a gateway may teleport to.
type Registry struct {
	mu      sync.RWMutex
	table   *store.Table
	domains map[types.Domain]struct{}
}

// LoadRegistry restores the whitelist from the table.
func LoadRegistry(ctx context.Context, table *store.Table) (*Registry, error) {
	r := &Registry{table: table, domains: make(map[types.Domain]struct{})}
	entries, err := table.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load domain registry: %w", err)
	}
	for _, e := range entries {
		var d types.Domain
		if err := d.UnmarshalText([]byte(e.Key)); err != nil {
			return nil, fmt.Errorf("invalid registry key %q: %w", e.Key, err)
		}
		r.domains[d] = struct{}{}
	}
	return r, nil
}

// File sets the whitelist flag of a domain. Only 0 and 1 are accepted.
func (r *Registry) File(ctx context.Context, what string, d types.Domain, data uint64) error {
	if what != ValidDomains {
		return fmt.Errorf("%w: %q", types.ErrInvalidParam, what)
	}
	if data > 1 {
		return fmt.Errorf("%w: %d", types.ErrInvalidData, data)
	}
	if d.IsZero() {
		return fmt.Errorf("%w: zero domain", types.ErrInvalidDomain)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := hexutil.Encode(d[:])
	if data == 1 {
		if err := r.table.Put(ctx, key, []byte{1}); err != nil {
			return fmt.Errorf("failed to whitelist %s: %w", d, err)
		}
		r.domains[d] = struct{}{}
		return nil
	}
	if err := r.table.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", d, err)
	}
	delete(r.domains, d)
	return nil
}

func (r *Registry) IsValid(d types.Domain) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.domains[d]
	return ok
}

// Domains lists the whitelisted domains, sorted by name.
func (r *Registry) Domains() []types.Domain {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Domain, 0, len(r.domains))
	for d := range r.domains {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})
	return out
}
