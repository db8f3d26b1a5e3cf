package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-service/locks"
	"github.com/mantlenetworkio/teleport/op-teleport/config"
	"github.com/mantlenetworkio/teleport/op-teleport/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/frontend"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/gateway"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/messenger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/oracle"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

const (
	defaultMaxAttempts  = 5
	defaultInterval     = time.Second
	defaultPollInterval = time.Second
)

type APIRouter interface {
	AddRPC(route string) error
	AddAPIToRPC(route string, api rpc.API) error
}

// DomainRoute is the RPC route serving the teleport namespace of a domain.
func DomainRoute(d types.Domain) string {
	return "/domain/" + d.Name()
}

// Backend runs the settlement domain and every source domain in process,
// with the relayer between them and the oracles watching the source gateways.
type Backend struct {
	log log.Logger
	m   metrics.Metricer
	st  *store.Store

	settlement *Settlement
	sources    locks.RWMap[types.Domain, *Source]
	// config order
	domains []types.Domain

	relayer   *messenger.Relayer
	attesters *oracle.AttesterSet
}

var _ frontend.AdminBackend = (*Backend)(nil)

// FromConfig builds the system on top of st, which the backend closes when stopped.
func FromConfig(ctx context.Context, logger log.Logger, m metrics.Metricer, cfg *config.SystemConfig,
	st *store.Store, router APIRouter) (*Backend, error) {
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid system config: %w", err)
	}
	b := &Backend{
		log: logger,
		m:   m,
		st:  st,
	}

	signers := make([]*oracle.Signer, 0, len(cfg.Oracle.SignerKeys))
	signerAddrs := make([]common.Address, 0, len(cfg.Oracle.SignerKeys)+len(cfg.Oracle.Signers))
	for i, key := range cfg.Oracle.SignerKeys {
		signer, err := oracle.SignerFromHex(key)
		if err != nil {
			return nil, fmt.Errorf("invalid oracle key %d: %w", i, err)
		}
		signers = append(signers, signer)
		signerAddrs = append(signerAddrs, signer.Address())
	}
	signerAddrs = append(signerAddrs, cfg.Oracle.Signers...)

	addrs := cfg.Addresses()
	var err error
	if b.settlement, err = newSettlement(ctx, logger, m, cfg, addrs, signerAddrs, st); err != nil {
		return nil, fmt.Errorf("failed to setup settlement domain %s: %w", cfg.Settlement.Domain, err)
	}

	maxAttempts := cfg.Relayer.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	interval := cfg.Relayer.Interval
	if interval == 0 {
		interval = defaultInterval
	}
	b.relayer = messenger.NewRelayer(logger.New("role", "relayer"), m, maxAttempts, interval)

	var attesters []*oracle.Attester
	for _, sc := range cfg.Sources {
		src, err := newSource(ctx, logger, m, sc, b.settlement, st)
		if err != nil {
			return nil, fmt.Errorf("failed to setup source domain %s: %w", sc.Domain, err)
		}
		b.sources.Set(sc.Domain, src)
		b.domains = append(b.domains, sc.Domain)

		b.relayer.AddMessenger(src.toL1)
		b.relayer.AddMessenger(src.toL2)
		b.relayer.Register(messenger.Endpoint{Domain: cfg.Settlement.Domain, Address: src.addrs.Settlement}, src.settlement)
		b.relayer.Register(messenger.Endpoint{Domain: cfg.Settlement.Domain, Address: src.addrs.L1Bridge}, src.l1Bridge)
		b.relayer.Register(messenger.Endpoint{Domain: sc.Domain, Address: src.addrs.Bridge}, src.bridge)

		for _, signer := range signers {
			a, err := oracle.NewAttester(ctx, logger, m, signer, src.gateway.Events(), sc.Confirmations, st)
			if err != nil {
				return nil, fmt.Errorf("failed to setup oracle %s for %s: %w", signer.Address(), sc.Domain, err)
			}
			attesters = append(attesters, a)
		}
	}
	poll := cfg.Oracle.PollInterval
	if poll == 0 {
		poll = defaultPollInterval
	}
	b.attesters = oracle.NewAttesterSet(logger.New("role", "oracle"), poll, attesters...)

	if err := b.addRoutes(router); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Backend) addRoutes(router APIRouter) error {
	l1 := DomainRoute(b.settlement.Domain())
	if err := router.AddRPC(l1); err != nil {
		return fmt.Errorf("failed to setup route of %s: %w", b.settlement.Domain(), err)
	}
	if err := router.AddAPIToRPC(l1, rpc.API{
		Namespace: "teleport",
		Service:   frontend.NewSettlementFrontend(b.settlement),
	}); err != nil {
		return fmt.Errorf("failed to setup RPC of %s: %w", b.settlement.Domain(), err)
	}
	var result error
	b.sources.Range(func(d types.Domain, src *Source) bool {
		route := DomainRoute(d)
		if err := router.AddRPC(route); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to setup route of %s: %w", d, err))
			return true
		}
		if err := router.AddAPIToRPC(route, rpc.API{
			Namespace: "teleport",
			Service:   frontend.NewSourceFrontend(src),
		}); err != nil {
			result = errors.Join(result, fmt.Errorf("failed to setup RPC of %s: %w", d, err))
		}
		return true
	})
	return result
}

// Start runs the relayer and the oracles in the background.
func (b *Backend) Start() {
	b.relayer.Start()
	b.attesters.Start()
}

func (b *Backend) Stop(ctx context.Context) error {
	b.attesters.Stop()
	b.relayer.Stop()
	if err := b.st.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}

func (b *Backend) Settlement() *Settlement {
	return b.settlement
}

func (b *Backend) Source(d types.Domain) (*Source, bool) {
	return b.sources.Get(d)
}

func (b *Backend) Relayer() *messenger.Relayer {
	return b.relayer
}

func (b *Backend) Attesters() *oracle.AttesterSet {
	return b.attesters
}

// Attestations serves the oracle query endpoint.
func (b *Backend) Attestations(ctx context.Context, ref common.Hash) ([]oracle.Attestation, error) {
	return b.attesters.Attestations(ctx, ref)
}

// Domains lists the settlement domain, then the source domains in config order.
func (b *Backend) Domains() []types.Domain {
	return append([]types.Domain{b.settlement.Domain()}, b.domains...)
}

func (b *Backend) source(d types.Domain) (*Source, error) {
	src, ok := b.sources.Get(d)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a source domain", types.ErrInvalidDomain, d)
	}
	return src, nil
}

func (b *Backend) CloseGateway(ctx context.Context, caller common.Address, source types.Domain) error {
	src, err := b.source(source)
	if err != nil {
		return err
	}
	return src.gateway.Close(ctx, caller)
}

// CloseBridge closes both ends of the bridge to a source domain.
func (b *Backend) CloseBridge(ctx context.Context, caller common.Address, source types.Domain) error {
	src, err := b.source(source)
	if err != nil {
		return err
	}
	if err := src.l1Bridge.Close(ctx, caller); err != nil {
		return err
	}
	return src.bridge.Close(ctx, caller)
}

func (b *Backend) FileDomain(ctx context.Context, caller common.Address, source, target types.Domain, valid bool) error {
	src, err := b.source(source)
	if err != nil {
		return err
	}
	var data uint64
	if valid {
		data = 1
	}
	return src.gateway.File(ctx, caller, gateway.ValidDomains, target, data)
}

func (b *Backend) FileLine(caller common.Address, source types.Domain, line *uint256.Int) error {
	if _, err := b.source(source); err != nil {
		return err
	}
	return b.settlement.join.FileLine(caller, source, line)
}

func (b *Backend) SetThreshold(caller common.Address, threshold uint64) error {
	return b.settlement.oracleAuth.SetThreshold(caller, threshold)
}

func (b *Backend) AddSigners(caller common.Address, signers ...common.Address) error {
	return b.settlement.oracleAuth.AddSigners(caller, signers...)
}

func (b *Backend) RemoveSigners(caller common.Address, signers ...common.Address) error {
	return b.settlement.oracleAuth.RemoveSigners(caller, signers...)
}

func (b *Backend) Relay(ctx context.Context) (int, error) {
	return b.relayer.RelayAll(ctx)
}
