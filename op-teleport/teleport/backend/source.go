package backend

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/config"
	"github.com/mantlenetworkio/teleport/op-teleport/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/bridge"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/frontend"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/gateway"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/messenger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Source is one source domain: its token, gateway and bridge end, the counterparts of both
// on the settlement domain, and the messengers between the two domains.
type Source struct {
	log   log.Logger
	cfg   config.SourceConfig
	addrs config.SourceAddresses

	token      *ledger.Token
	gateway    *gateway.Source
	bridge     *bridge.L2Bridge
	settlement *gateway.Settlement
	l1Bridge   *bridge.L1Bridge

	toL1 *messenger.Messenger
	toL2 *messenger.Messenger
}

var _ frontend.SourceBackend = (*Source)(nil)

func newSource(ctx context.Context, logger log.Logger, m metrics.Metricer, cfg config.SourceConfig,
	l1 *Settlement, st *store.Store) (*Source, error) {
	addrs, ok := l1.addrs.Sources[cfg.Domain]
	if !ok {
		return nil, fmt.Errorf("no addresses for %s", cfg.Domain)
	}
	owner := l1.cfg.Owner
	logger = logger.New("source", cfg.Domain)
	token, err := ledger.LoadToken(ctx, logger, l1.token.Symbol(), owner, TokenTable(st, cfg.Domain))
	if err != nil {
		return nil, err
	}
	s := &Source{
		log:   logger,
		cfg:   cfg,
		addrs: addrs,
		token: token,
	}

	if s.toL1, err = messenger.New(ctx, logger, st, cfg.Domain, l1.Domain()); err != nil {
		return nil, err
	}
	if s.toL2, err = messenger.New(ctx, logger, st, l1.Domain(), cfg.Domain); err != nil {
		return nil, err
	}

	s.gateway, err = gateway.NewSource(ctx, logger, m, m, gateway.SourceConfig{
		Domain:      cfg.Domain,
		Address:     addrs.Gateway,
		Counterpart: addrs.Settlement,
		Owner:       owner,
	}, st, s.token, s.toL1)
	if err != nil {
		return nil, fmt.Errorf("failed to load source gateway: %w", err)
	}
	if !s.gateway.Registry().IsValid(l1.Domain()) {
		if err := s.gateway.File(ctx, owner, gateway.ValidDomains, l1.Domain(), 1); err != nil {
			return nil, err
		}
	}
	s.bridge, err = bridge.NewL2Bridge(ctx, logger, bridge.Config{
		Domain:      cfg.Domain,
		Address:     addrs.Bridge,
		Counterpart: addrs.L1Bridge,
		Owner:       owner,
	}, st, s.token, s.toL1, s.toL2)
	if err != nil {
		return nil, fmt.Errorf("failed to load bridge: %w", err)
	}
	if err := s.token.Rely(owner, addrs.Bridge); err != nil {
		return nil, err
	}

	// settlement domain side
	s.settlement, err = gateway.NewSettlement(logger, gateway.SettlementConfig{
		Domain:      l1.Domain(),
		Address:     addrs.Settlement,
		Counterpart: addrs.Gateway,
		Escrow:      l1.addrs.Escrow,
	}, l1.token, l1.router, s.toL1)
	if err != nil {
		return nil, err
	}
	s.l1Bridge, err = bridge.NewL1Bridge(ctx, logger, bridge.Config{
		Domain:      l1.Domain(),
		Address:     addrs.L1Bridge,
		Counterpart: addrs.Bridge,
		Owner:       owner,
	}, l1.addrs.Escrow, st, l1.token, s.toL2, s.toL1)
	if err != nil {
		return nil, fmt.Errorf("failed to load settlement bridge: %w", err)
	}
	for _, spender := range []common.Address{addrs.Settlement, addrs.L1Bridge} {
		if err := l1.escrow.Approve(owner, l1.token, spender, ledger.MaxAllowance); err != nil {
			return nil, err
		}
	}
	if err := l1.router.FileGateway(owner, cfg.Domain, addrs.Settlement, nil); err != nil {
		return nil, err
	}
	filed, _ := l1.router.Gateway(cfg.Domain)
	if err := config.CheckCounterpart(fmt.Sprintf("%s source gateway", cfg.Domain), addrs.Settlement, filed); err != nil {
		return nil, err
	}
	if cfg.Line != nil {
		if err := l1.join.FileLine(owner, cfg.Domain, cfg.Line); err != nil {
			return nil, err
		}
	}
	if err := l1.join.FileFees(owner, cfg.Domain, cfg.Fee.Calculator()); err != nil {
		return nil, err
	}
	l1.bridges.Set(cfg.Domain, s.l1Bridge)
	return s, nil
}

func (s *Source) Domain() types.Domain {
	return s.cfg.Domain
}

func (s *Source) Token() *ledger.Token {
	return s.token
}

func (s *Source) Gateway() *gateway.Source {
	return s.gateway
}

func (s *Source) Bridge() *bridge.L2Bridge {
	return s.bridge
}

func (s *Source) Addresses() config.SourceAddresses {
	return s.addrs
}

func (s *Source) InitiateTeleport(ctx context.Context, caller common.Address, target types.Domain,
	receiver types.Bytes32, amount *uint256.Int, operator types.Bytes32) (*types.TeleportGUID, error) {
	return s.gateway.InitiateTeleport(ctx, caller, target, receiver, amount, operator)
}

// FinalizeRegisterTeleport sends a teleport initiated on this domain over the slow path.
func (s *Source) FinalizeRegisterTeleport(ctx context.Context, caller common.Address, guid *types.TeleportGUID) (common.Hash, error) {
	if guid.SourceDomain != s.cfg.Domain {
		return common.Hash{}, fmt.Errorf("%w: teleport from %s registered on %s", types.ErrInvalidDomain, guid.SourceDomain, s.cfg.Domain)
	}
	return s.gateway.FinalizeRegisterTeleport(ctx, caller, guid.TargetDomain, guid.Receiver, guid.Amount,
		guid.Operator, guid.Nonce, guid.Timestamp)
}

func (s *Source) Flush(ctx context.Context, target types.Domain) (*uint256.Int, error) {
	return s.gateway.Flush(ctx, target)
}

func (s *Source) BatchedDebt(target types.Domain) *uint256.Int {
	return s.gateway.BatchedDebt(target)
}

func (s *Source) Nonce() uint64 {
	return s.gateway.Nonce()
}

func (s *Source) Head() uint64 {
	return s.gateway.Events().Head()
}

func (s *Source) Events(from, to uint64) []gateway.Event {
	return s.gateway.Events().Range(from, to)
}

func (s *Source) Approve(owner, spender common.Address, amount *uint256.Int) error {
	return s.token.Approve(owner, spender, amount)
}

func (s *Source) Withdraw(ctx context.Context, caller, to common.Address, amount *uint256.Int) (common.Hash, error) {
	return s.bridge.Withdraw(ctx, caller, to, amount)
}

func (s *Source) BalanceOf(addr common.Address) *uint256.Int {
	return s.token.BalanceOf(addr)
}
