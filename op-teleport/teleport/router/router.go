// Package router authorizes teleport mints on the settlement domain and routes them,
// together with flush settlements, to the gateway of the target domain.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/auth"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type Metrics interface {
	RecordMint(source types.Domain, amount, fee *uint256.Int)
	RecordSettle(source types.Domain, amount *uint256.Int)
	RecordSignatureCheck(err error)
}

// TargetGateway mints and settles teleports that target its domain.
type TargetGateway interface {
	Address() common.Address
	RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, maxFeePct, operatorFee *uint256.Int) (Minted, error)
	Settle(ctx context.Context, caller common.Address, source, target types.Domain, amount *uint256.Int) error
}

type route struct {
	addr common.Address
	// nil if the domain is only a source of teleports
	target TargetGateway
}

type RouterConfig struct {
	Address common.Address
	Owner   common.Address
}

// Router knows one gateway per domain. Gateways of source domains request mints and settle
// flushes through it; it forwards both to the gateway of the target domain.
type Router struct {
	log log.Logger
	cfg RouterConfig
	*auth.Wards
	token *ledger.Token

	mu      sync.RWMutex
	routes  map[types.Domain]route
	domains map[common.Address]types.Domain
}

func NewRouter(logger log.Logger, cfg RouterConfig, token *ledger.Token) *Router {
	return &Router{
		log:     logger.New("router", cfg.Address),
		cfg:     cfg,
		Wards:   auth.NewWards(cfg.Owner),
		token:   token,
		routes:  make(map[types.Domain]route),
		domains: make(map[common.Address]types.Domain),
	}
}

func (r *Router) Address() common.Address {
	return r.cfg.Address
}

// FileGateway sets the gateway of a domain, replacing the previous one.
// target handles mints and settlements for the domain, and may be nil for a pure source domain.
// A zero address removes the domain.
func (r *Router) FileGateway(caller common.Address, d types.Domain, addr common.Address, target TargetGateway) error {
	if err := r.Check(caller); err != nil {
		return err
	}
	if d.IsZero() {
		return fmt.Errorf("%w: zero domain", types.ErrInvalidDomain)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if other, ok := r.domains[addr]; ok && other != d {
		return fmt.Errorf("%w: %s is already the gateway of %s", types.ErrInvalidParam, addr, other)
	}
	if prev, ok := r.routes[d]; ok {
		if prev.target != nil {
			if err := r.token.Approve(r.cfg.Address, prev.addr, new(uint256.Int)); err != nil {
				return err
			}
		}
		delete(r.domains, prev.addr)
	}
	if addr == (common.Address{}) {
		delete(r.routes, d)
		r.log.Info("Removed gateway", "domain", d)
		return nil
	}
	if target != nil {
		// targets pull settled tokens from the router
		if err := r.token.Approve(r.cfg.Address, addr, ledger.MaxAllowance); err != nil {
			return err
		}
	}
	r.routes[d] = route{addr: addr, target: target}
	r.domains[addr] = d
	r.log.Info("Filed gateway", "domain", d, "gateway", addr, "target", target != nil)
	return nil
}

// Gateway returns the address of the gateway of a domain.
func (r *Router) Gateway(d types.Domain) (common.Address, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[d]
	return rt.addr, ok
}

func (r *Router) target(d types.Domain) (route, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[d]
	if !ok || rt.target == nil {
		return route{}, fmt.Errorf("%w: no gateway handles %s", types.ErrInvalidDomain, d)
	}
	return rt, nil
}

// RequestMint forwards a registration from the gateway of the source domain to the gateway of the target domain.
func (r *Router) RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, maxFeePct, operatorFee *uint256.Int) (Minted, error) {
	if gw, ok := r.Gateway(guid.SourceDomain); !ok || gw != caller {
		return Minted{}, fmt.Errorf("%w: %s is not the gateway of %s", types.ErrNotAuthorized, caller, guid.SourceDomain)
	}
	rt, err := r.target(guid.TargetDomain)
	if err != nil {
		return Minted{}, err
	}
	return rt.target.RequestMint(ctx, r.cfg.Address, guid, maxFeePct, operatorFee)
}

// Settle takes amount from the calling gateway and settles it with the gateway of the target domain,
// as paid by the domain of the caller.
func (r *Router) Settle(ctx context.Context, caller common.Address, target types.Domain, amount *uint256.Int) error {
	r.mu.RLock()
	source, ok := r.domains[caller]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s is not a gateway", types.ErrNotAuthorized, caller)
	}
	rt, err := r.target(target)
	if err != nil {
		return err
	}
	if err := r.token.TransferFrom(r.cfg.Address, caller, r.cfg.Address, amount); err != nil {
		return fmt.Errorf("failed to take settlement from %s: %w", caller, err)
	}
	if err := rt.target.Settle(ctx, r.cfg.Address, source, target, amount); err != nil {
		if rerr := r.token.Transfer(r.cfg.Address, caller, amount); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}
	r.log.Info("Routed settlement", "source", source, "target", target, "amount", amount)
	return nil
}
