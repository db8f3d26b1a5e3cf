package backend

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-service/locks"
	"github.com/mantlenetworkio/teleport/op-teleport/config"
	"github.com/mantlenetworkio/teleport/op-teleport/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/bridge"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/frontend"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/router"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

const (
	defaultSymbol = "TKN"
	// genesisKey marks that the configured balances were minted
	genesisKey = "genesis"
)

// TokenTable is where the token of a domain keeps its balances.
func TokenTable(st *store.Store, d types.Domain) *store.Table {
	return st.Table("token").Sub(d.Name())
}

// Settlement is the settlement domain: the token and its escrow, the join, the router and the oracle auth.
// The settlement gateways and bridge ends of the source domains are added by their Source.
type Settlement struct {
	cfg   config.SettlementConfig
	addrs config.Addresses

	token      *ledger.Token
	escrow     *ledger.Escrow
	join       *router.Join
	router     *router.Router
	oracleAuth *router.OracleAuth
	bridges    locks.RWMap[types.Domain, *bridge.L1Bridge]
}

var _ frontend.SettlementBackend = (*Settlement)(nil)

func newSettlement(ctx context.Context, logger log.Logger, m metrics.Metricer, cfg *config.SystemConfig,
	addrs config.Addresses, signers []common.Address, st *store.Store) (*Settlement, error) {
	sc := cfg.Settlement
	owner := sc.Owner
	symbol := sc.Symbol
	if symbol == "" {
		symbol = defaultSymbol
	}
	logger = logger.New("domain", sc.Domain)
	token, err := ledger.LoadToken(ctx, logger, symbol, owner, TokenTable(st, sc.Domain))
	if err != nil {
		return nil, err
	}
	s := &Settlement{
		cfg:    sc,
		addrs:  addrs,
		token:  token,
		escrow: ledger.NewEscrow(addrs.Escrow, owner),
	}

	s.join, err = router.NewJoin(ctx, logger, m, router.JoinConfig{
		Domain:  sc.Domain,
		Address: addrs.Join,
		Vow:     sc.Vow,
		Owner:   owner,
	}, st, s.token)
	if err != nil {
		return nil, fmt.Errorf("failed to load join: %w", err)
	}
	if err := s.token.Rely(owner, addrs.Join); err != nil {
		return nil, err
	}

	s.router = router.NewRouter(logger, router.RouterConfig{Address: addrs.Router, Owner: owner}, s.token)
	if err := s.router.FileGateway(owner, sc.Domain, addrs.Join, s.join); err != nil {
		return nil, err
	}
	if err := s.join.Rely(owner, addrs.Router); err != nil {
		return nil, err
	}

	s.oracleAuth, err = router.NewOracleAuth(logger, m, router.OracleAuthConfig{
		Address:   addrs.OracleAuth,
		Owner:     owner,
		Signers:   signers,
		Threshold: cfg.Oracle.Threshold,
	}, s.join)
	if err != nil {
		return nil, fmt.Errorf("failed to create oracle auth: %w", err)
	}
	if err := s.join.Rely(owner, addrs.OracleAuth); err != nil {
		return nil, err
	}

	if err := s.mintGenesis(ctx, logger, st.Table("settlement").Sub(sc.Domain.Name())); err != nil {
		return nil, err
	}
	return s, nil
}

// mintGenesis mints the configured balances on the first start only.
func (s *Settlement) mintGenesis(ctx context.Context, logger log.Logger, tbl *store.Table) error {
	minted, err := tbl.Has(ctx, genesisKey)
	if err != nil {
		return fmt.Errorf("failed to read genesis marker: %w", err)
	}
	if minted {
		logger.Info("Genesis balances already minted", "supply", s.token.TotalSupply())
		return nil
	}
	for addr, amount := range s.cfg.Balances {
		if err := s.token.Mint(s.cfg.Owner, addr, amount); err != nil {
			return fmt.Errorf("failed to mint initial balance of %s: %w", addr, err)
		}
	}
	if err := tbl.Put(ctx, genesisKey, []byte{1}); err != nil {
		return fmt.Errorf("failed to write genesis marker: %w", err)
	}
	return nil
}

func (s *Settlement) Domain() types.Domain {
	return s.cfg.Domain
}

func (s *Settlement) Token() *ledger.Token {
	return s.token
}

func (s *Settlement) Escrow() *ledger.Escrow {
	return s.escrow
}

func (s *Settlement) Join() *router.Join {
	return s.join
}

func (s *Settlement) Router() *router.Router {
	return s.router
}

func (s *Settlement) OracleAuth() *router.OracleAuth {
	return s.oracleAuth
}

func (s *Settlement) Status(ctx context.Context, h common.Hash) (router.Record, error) {
	return s.join.Status(ctx, h)
}

func (s *Settlement) RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, signatures []byte,
	maxFeePct, operatorFee *uint256.Int) (router.Minted, error) {
	return s.oracleAuth.RequestMint(ctx, caller, guid, signatures, maxFeePct, operatorFee)
}

func (s *Settlement) MintPending(ctx context.Context, caller common.Address, guid *types.TeleportGUID,
	maxFeePct, operatorFee *uint256.Int) (router.Minted, error) {
	return s.join.MintPending(ctx, caller, guid, maxFeePct, operatorFee)
}

func (s *Settlement) Debt(source types.Domain) (owed, surplus *uint256.Int) {
	return s.join.Debt(source)
}

func (s *Settlement) Approve(owner, spender common.Address, amount *uint256.Int) error {
	return s.token.Approve(owner, spender, amount)
}

// Deposit bridges tokens to a source domain, through the settlement end of its bridge.
func (s *Settlement) Deposit(ctx context.Context, source types.Domain, caller, to common.Address, amount *uint256.Int) (common.Hash, error) {
	b, ok := s.bridges.Get(source)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: no bridge to %s", types.ErrInvalidDomain, source)
	}
	return b.Deposit(ctx, caller, to, amount)
}

func (s *Settlement) BalanceOf(addr common.Address) *uint256.Int {
	return s.token.BalanceOf(addr)
}
