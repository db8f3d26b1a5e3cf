package frontend

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type AdminBackend interface {
	Domains() []types.Domain
	CloseGateway(ctx context.Context, caller common.Address, source types.Domain) error
	CloseBridge(ctx context.Context, caller common.Address, source types.Domain) error
	FileDomain(ctx context.Context, caller common.Address, source, target types.Domain, valid bool) error
	FileLine(caller common.Address, source types.Domain, line *uint256.Int) error
	SetThreshold(caller common.Address, threshold uint64) error
	AddSigners(caller common.Address, signers ...common.Address) error
	RemoveSigners(caller common.Address, signers ...common.Address) error
	Relay(ctx context.Context) (int, error)
}

type AdminFrontend struct {
	b AdminBackend
}

func NewAdminFrontend(b AdminBackend) *AdminFrontend {
	return &AdminFrontend{b: b}
}

func (a *AdminFrontend) Domains() []types.Domain {
	return a.b.Domains()
}

func (a *AdminFrontend) CloseGateway(ctx context.Context, caller common.Address, source types.Domain) error {
	return a.b.CloseGateway(ctx, caller, source)
}

func (a *AdminFrontend) CloseBridge(ctx context.Context, caller common.Address, source types.Domain) error {
	return a.b.CloseBridge(ctx, caller, source)
}

func (a *AdminFrontend) FileDomain(ctx context.Context, caller common.Address, source, target types.Domain, valid bool) error {
	return a.b.FileDomain(ctx, caller, source, target, valid)
}

// FileLine sets the debt ceiling of a source domain; an omitted line removes it.
func (a *AdminFrontend) FileLine(caller common.Address, source types.Domain, line *uint256.Int) error {
	return a.b.FileLine(caller, source, line)
}

func (a *AdminFrontend) SetThreshold(caller common.Address, threshold uint64) error {
	return a.b.SetThreshold(caller, threshold)
}

func (a *AdminFrontend) AddSigners(caller common.Address, signers []common.Address) error {
	return a.b.AddSigners(caller, signers...)
}

func (a *AdminFrontend) RemoveSigners(caller common.Address, signers []common.Address) error {
	return a.b.RemoveSigners(caller, signers...)
}

// Relay delivers the pending cross-domain messages now, instead of waiting for the relayer.
func (a *AdminFrontend) Relay(ctx context.Context) (int, error) {
	return a.b.Relay(ctx)
}
