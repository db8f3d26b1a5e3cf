// Package gateway implements the two ends of a teleport: the source gateway that burns and
// batches tokens on the originating domain, and the settlement gateway that finalizes
// registrations and flushes on the settlement domain.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/auth"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/debt"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/messenger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

const (
	nonceKey  = "nonce"
	closedKey = "closed"
)

type SourceMetrics interface {
	RecordTeleportInitiated(target types.Domain, amount *uint256.Int)
	RecordFlush(target types.Domain, amount *uint256.Int)
}

type SourceConfig struct {
	Domain types.Domain
	// Address of the source gateway on its own domain.
	Address common.Address
	// Counterpart is the settlement gateway receiving registrations and flushes.
	Counterpart common.Address
	Owner       common.Address
	// Now defaults to the wall clock.
	Now func() time.Time
}

// Source is the gateway on the domain teleports originate from.
type Source struct {
	log log.Logger
	m   SourceMetrics
	cfg SourceConfig
	*auth.Wards

	token     *ledger.Token
	messenger *messenger.Messenger
	registry  *Registry
	events    *EventLog

	// mu serializes every state change, so nonces are handed out in order
	mu      sync.Mutex
	state   *store.Table
	nonce   uint64
	closed  bool
	batched *debt.Ledger
}

func NewSource(ctx context.Context, logger log.Logger, m SourceMetrics, refs opmetrics.RefMetricer,
	cfg SourceConfig, st *store.Store, token *ledger.Token, msgr *messenger.Messenger) (*Source, error) {
	if msgr.Source() != cfg.Domain {
		return nil, fmt.Errorf("messenger carries messages from %s, not %s", msgr.Source(), cfg.Domain)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tbl := st.Table("gateway").Sub(cfg.Domain.Name())
	s := &Source{
		log:       logger.New("gateway", "source", "domain", cfg.Domain),
		m:         m,
		cfg:       cfg,
		Wards:     auth.NewWards(cfg.Owner),
		token:     token,
		messenger: msgr,
		state:     tbl.Sub("state"),
	}
	var err error
	if s.registry, err = LoadRegistry(ctx, tbl.Sub("registry")); err != nil {
		return nil, err
	}
	if s.events, err = LoadEventLog(ctx, cfg.Domain, tbl.Sub("events"), refs); err != nil {
		return nil, err
	}
	if s.batched, err = debt.Load(ctx, tbl.Sub("batched")); err != nil {
		return nil, err
	}
	if s.nonce, err = s.state.GetUint64(ctx, nonceKey); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load nonce: %w", err)
	}
	if s.closed, err = s.state.Has(ctx, closedKey); err != nil {
		return nil, fmt.Errorf("failed to load closed flag: %w", err)
	}
	return s, nil
}

func (s *Source) Domain() types.Domain {
	return s.cfg.Domain
}

func (s *Source) Address() common.Address {
	return s.cfg.Address
}

func (s *Source) Events() *EventLog {
	return s.events
}

func (s *Source) Registry() *Registry {
	return s.registry
}

// Nonce is the nonce the next teleport will be assigned.
func (s *Source) Nonce() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce
}

func (s *Source) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// BatchedDebt is the amount burned towards the target domain and not flushed yet.
func (s *Source) BatchedDebt(target types.Domain) *uint256.Int {
	return s.batched.Get(target)
}

// InitiateTeleport burns amount from caller, and records a teleport to receiver on the target domain.
// The burn spends the allowance caller granted to the gateway.
func (s *Source) InitiateTeleport(ctx context.Context, caller common.Address, target types.Domain,
	receiver types.Bytes32, amount *uint256.Int, operator types.Bytes32) (*types.TeleportGUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, types.ErrGatewayClosed
	}
	if !s.registry.IsValid(target) {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidDomain, target)
	}
	if !types.ValidAmount(amount) {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidAmount, amount)
	}
	guid := &types.TeleportGUID{
		SourceDomain: s.cfg.Domain,
		TargetDomain: target,
		Receiver:     receiver,
		Operator:     operator,
		Amount:       amount.Clone(),
		Nonce:        s.nonce,
		Timestamp:    uint64(s.cfg.Now().Unix()),
	}
	if err := guid.Check(); err != nil {
		return nil, err
	}
	if err := s.state.PutUint64(ctx, nonceKey, s.nonce+1); err != nil {
		return nil, fmt.Errorf("failed to persist nonce: %w", err)
	}
	if _, err := s.batched.Add(ctx, target, amount); err != nil {
		return nil, errors.Join(err, s.restoreNonce(ctx))
	}
	// the gateway holds the tokens until the event is recorded, so they can be returned if it is not
	allowance := s.token.Allowance(caller, s.cfg.Address)
	if err := s.token.TransferFrom(s.cfg.Address, caller, s.cfg.Address, amount); err != nil {
		return nil, errors.Join(err, s.unbatch(ctx, target, amount), s.restoreNonce(ctx))
	}
	ev, err := s.events.Append(ctx, Event{
		Kind:         EventTeleportInitialized,
		Timestamp:    guid.Timestamp,
		GUID:         guid,
		TargetDomain: target,
		Amount:       guid.Amount,
	})
	if err != nil {
		return nil, errors.Join(err, s.refund(caller, amount, allowance), s.unbatch(ctx, target, amount), s.restoreNonce(ctx))
	}
	s.nonce++
	s.burnHeld()

	s.m.RecordTeleportInitiated(target, amount)
	s.log.Info("Teleport initiated", "guid", guid.Hash(), "target", target, "nonce", guid.Nonce,
		"amount", amount, "ref", ev.Ref)
	return guid, nil
}

// burnHeld burns everything the gateway holds. A burn that fails is retried by the next teleport.
func (s *Source) burnHeld() {
	held := s.token.BalanceOf(s.cfg.Address)
	if held.IsZero() {
		return
	}
	if err := s.token.Burn(s.cfg.Address, s.cfg.Address, held); err != nil {
		s.log.Error("Failed to burn teleported tokens", "amount", held, "err", err)
	}
}

func (s *Source) refund(caller common.Address, amount, allowance *uint256.Int) error {
	if err := s.token.Transfer(s.cfg.Address, caller, amount); err != nil {
		return fmt.Errorf("failed to refund %v to %s: %w", amount, caller, err)
	}
	if allowance.Eq(ledger.MaxAllowance) {
		return nil
	}
	if err := s.token.Approve(caller, s.cfg.Address, allowance); err != nil {
		return fmt.Errorf("failed to restore allowance of %s: %w", caller, err)
	}
	return nil
}

func (s *Source) unbatch(ctx context.Context, target types.Domain, amount *uint256.Int) error {
	if _, err := s.batched.Sub(ctx, target, amount); err != nil {
		return fmt.Errorf("failed to restore batched debt: %w", err)
	}
	return nil
}

func (s *Source) restoreNonce(ctx context.Context) error {
	if err := s.state.PutUint64(ctx, nonceKey, s.nonce); err != nil {
		return fmt.Errorf("failed to restore nonce: %w", err)
	}
	return nil
}

// FinalizeRegisterTeleport sends the teleport to the settlement gateway, to be minted without attestations.
// The GUID is rebuilt from its fields with this gateway as source; it is not checked against past initiations.
// This works on a closed gateway, so teleports initiated before closing can still complete.
func (s *Source) FinalizeRegisterTeleport(ctx context.Context, caller common.Address, target types.Domain,
	receiver types.Bytes32, amount *uint256.Int, operator types.Bytes32, nonce uint64, timestamp uint64) (common.Hash, error) {
	guid := &types.TeleportGUID{
		SourceDomain: s.cfg.Domain,
		TargetDomain: target,
		Receiver:     receiver,
		Operator:     operator,
		Amount:       amount,
		Nonce:        nonce,
		Timestamp:    timestamp,
	}
	payload, err := messenger.EncodeRegisterTeleport(guid)
	if err != nil {
		return common.Hash{}, err
	}
	h, err := s.send(ctx, messenger.KindFinalizeRegisterTeleport, payload)
	if err != nil {
		return common.Hash{}, err
	}
	s.log.Info("Sent teleport registration", "guid", guid.Hash(), "caller", caller, "msg", h)
	return h, nil
}

// Flush sends the batched debt of the target domain for settlement, and resets it.
func (s *Source) Flush(ctx context.Context, target types.Domain) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount, err := s.batched.Take(ctx, target)
	if err != nil {
		return nil, err
	}
	payload := messenger.EncodeFlush(messenger.Flush{TargetDomain: target, Amount: amount})
	h, err := s.send(ctx, messenger.KindFinalizeFlush, payload)
	if err != nil {
		if _, aerr := s.batched.Add(ctx, target, amount); aerr != nil {
			err = errors.Join(err, aerr)
		}
		return nil, err
	}
	if _, err := s.events.Append(ctx, Event{
		Kind:         EventFlushed,
		Timestamp:    uint64(s.cfg.Now().Unix()),
		TargetDomain: target,
		Amount:       amount,
	}); err != nil {
		s.log.Error("Failed to record flush event", "target", target, "err", err)
	}
	s.m.RecordFlush(target, amount)
	s.log.Info("Flushed batched debt", "target", target, "amount", amount, "msg", h)
	return amount, nil
}

// Close stops new teleports. Closing twice is a no-op.
func (s *Source) Close(ctx context.Context, caller common.Address) error {
	if err := s.Check(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if err := s.state.Put(ctx, closedKey, []byte{1}); err != nil {
		return fmt.Errorf("failed to persist closed flag: %w", err)
	}
	s.closed = true
	if _, err := s.events.Append(ctx, Event{Kind: EventClosed, Timestamp: uint64(s.cfg.Now().Unix())}); err != nil {
		s.log.Error("Failed to record close event", "err", err)
	}
	s.log.Warn("Gateway closed", "caller", caller)
	return nil
}

// File changes a gateway parameter; the only one is the target domain whitelist.
func (s *Source) File(ctx context.Context, caller common.Address, what string, d types.Domain, data uint64) error {
	if err := s.Check(caller); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.registry.File(ctx, what, d, data); err != nil {
		return err
	}
	if _, err := s.events.Append(ctx, Event{
		Kind:         EventFile,
		Timestamp:    uint64(s.cfg.Now().Unix()),
		TargetDomain: d,
		What:         what,
		Data:         data,
	}); err != nil {
		s.log.Error("Failed to record file event", "err", err)
	}
	s.log.Info("Filed", "what", what, "domain", d, "data", data)
	return nil
}

func (s *Source) send(ctx context.Context, kind messenger.Kind, payload []byte) (common.Hash, error) {
	return s.messenger.Send(ctx, messenger.Message{
		Source:   s.cfg.Domain,
		Target:   s.messenger.Target(),
		Sender:   s.cfg.Address,
		Receiver: s.cfg.Counterpart,
		Kind:     kind,
		Payload:  payload,
	})
}
