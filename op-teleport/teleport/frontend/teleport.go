package frontend

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/gateway"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/router"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// SourceBackend is a domain teleports originate from: its gateway, its token and its end of the bridge.
type SourceBackend interface {
	Domain() types.Domain
	InitiateTeleport(ctx context.Context, caller common.Address, target types.Domain,
		receiver types.Bytes32, amount *uint256.Int, operator types.Bytes32) (*types.TeleportGUID, error)
	FinalizeRegisterTeleport(ctx context.Context, caller common.Address, guid *types.TeleportGUID) (common.Hash, error)
	Flush(ctx context.Context, target types.Domain) (*uint256.Int, error)
	BatchedDebt(target types.Domain) *uint256.Int
	Nonce() uint64
	Head() uint64
	Events(from, to uint64) []gateway.Event
	Approve(owner, spender common.Address, amount *uint256.Int) error
	Withdraw(ctx context.Context, caller, to common.Address, amount *uint256.Int) (common.Hash, error)
	BalanceOf(addr common.Address) *uint256.Int
}

// SourceFrontend serves the teleport namespace on the route of a source domain.
type SourceFrontend struct {
	b SourceBackend
}

func NewSourceFrontend(b SourceBackend) *SourceFrontend {
	return &SourceFrontend{b: b}
}

func (f *SourceFrontend) Domain(ctx context.Context) (types.Domain, error) {
	return f.b.Domain(), nil
}

func (f *SourceFrontend) InitiateTeleport(ctx context.Context, caller common.Address, target types.Domain,
	receiver types.Bytes32, amount *uint256.Int, operator *types.Bytes32) (*types.TeleportGUID, error) {
	var op types.Bytes32
	if operator != nil {
		op = *operator
	}
	return f.b.InitiateTeleport(ctx, caller, target, receiver, amount, op)
}

func (f *SourceFrontend) FinalizeRegisterTeleport(ctx context.Context, caller common.Address, guid types.TeleportGUID) (common.Hash, error) {
	return f.b.FinalizeRegisterTeleport(ctx, caller, &guid)
}

func (f *SourceFrontend) Flush(ctx context.Context, target types.Domain) (*uint256.Int, error) {
	return f.b.Flush(ctx, target)
}

func (f *SourceFrontend) BatchedDebt(ctx context.Context, target types.Domain) (*uint256.Int, error) {
	return f.b.BatchedDebt(target), nil
}

func (f *SourceFrontend) Nonce(ctx context.Context) (hexutil.Uint64, error) {
	return hexutil.Uint64(f.b.Nonce()), nil
}

// Head is the height of the last event of the gateway.
func (f *SourceFrontend) Head(ctx context.Context) (hexutil.Uint64, error) {
	return hexutil.Uint64(f.b.Head()), nil
}

// Events returns the gateway events with heights in [from, to]. The ref of an initiation
// event is what the oracles are queried with.
func (f *SourceFrontend) Events(ctx context.Context, from, to hexutil.Uint64) ([]gateway.Event, error) {
	return f.b.Events(uint64(from), uint64(to)), nil
}

func (f *SourceFrontend) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return f.b.Approve(owner, spender, orZero(amount))
}

func (f *SourceFrontend) Withdraw(ctx context.Context, caller, to common.Address, amount *uint256.Int) (common.Hash, error) {
	return f.b.Withdraw(ctx, caller, to, amount)
}

func (f *SourceFrontend) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return f.b.BalanceOf(addr), nil
}

// Debt is what the settlement domain owes and holds for one source domain.
type Debt struct {
	Owed    *uint256.Int `json:"owed"`
	Surplus *uint256.Int `json:"surplus"`
}

// SettlementBackend is the settlement domain, where teleports are minted and settled.
type SettlementBackend interface {
	Domain() types.Domain
	Status(ctx context.Context, h common.Hash) (router.Record, error)
	RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, signatures []byte,
		maxFeePct, operatorFee *uint256.Int) (router.Minted, error)
	MintPending(ctx context.Context, caller common.Address, guid *types.TeleportGUID,
		maxFeePct, operatorFee *uint256.Int) (router.Minted, error)
	Debt(source types.Domain) (owed, surplus *uint256.Int)
	Approve(owner, spender common.Address, amount *uint256.Int) error
	Deposit(ctx context.Context, source types.Domain, caller, to common.Address, amount *uint256.Int) (common.Hash, error)
	BalanceOf(addr common.Address) *uint256.Int
}

// SettlementFrontend serves the teleport namespace on the route of the settlement domain.
type SettlementFrontend struct {
	b SettlementBackend
}

func NewSettlementFrontend(b SettlementBackend) *SettlementFrontend {
	return &SettlementFrontend{b: b}
}

func (f *SettlementFrontend) Domain(ctx context.Context) (types.Domain, error) {
	return f.b.Domain(), nil
}

func (f *SettlementFrontend) Status(ctx context.Context, guidHash common.Hash) (router.Record, error) {
	return f.b.Status(ctx, guidHash)
}

// RequestMint mints a teleport with the packed oracle signatures over its GUID.
// The fee arguments may be omitted, which allows no fee at all.
func (f *SettlementFrontend) RequestMint(ctx context.Context, caller common.Address, guid types.TeleportGUID,
	signatures hexutil.Bytes, maxFeePct, operatorFee *uint256.Int) (router.Minted, error) {
	return f.b.RequestMint(ctx, caller, &guid, signatures, orZero(maxFeePct), orZero(operatorFee))
}

func (f *SettlementFrontend) MintPending(ctx context.Context, caller common.Address, guid types.TeleportGUID,
	maxFeePct, operatorFee *uint256.Int) (router.Minted, error) {
	return f.b.MintPending(ctx, caller, &guid, orZero(maxFeePct), orZero(operatorFee))
}

func (f *SettlementFrontend) Debt(ctx context.Context, source types.Domain) (Debt, error) {
	owed, surplus := f.b.Debt(source)
	return Debt{Owed: owed, Surplus: surplus}, nil
}

func (f *SettlementFrontend) Approve(ctx context.Context, owner, spender common.Address, amount *uint256.Int) error {
	return f.b.Approve(owner, spender, orZero(amount))
}

func (f *SettlementFrontend) Deposit(ctx context.Context, source types.Domain, caller, to common.Address, amount *uint256.Int) (common.Hash, error) {
	return f.b.Deposit(ctx, source, caller, to, amount)
}

func (f *SettlementFrontend) BalanceOf(ctx context.Context, addr common.Address) (*uint256.Int, error) {
	return f.b.BalanceOf(addr), nil
}

func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
