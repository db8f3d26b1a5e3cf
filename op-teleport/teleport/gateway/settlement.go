package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/messenger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/router"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Router is the part of the settlement domain router a settlement gateway calls into.
type Router interface {
	Address() common.Address
	RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, maxFeePct, operatorFee *uint256.Int) (router.Minted, error)
	Settle(ctx context.Context, caller common.Address, target types.Domain, amount *uint256.Int) error
}

type SettlementConfig struct {
	Domain types.Domain
	// Address of the settlement gateway on its own domain.
	Address common.Address
	// Counterpart is the source gateway, the only accepted sender of messages.
	Counterpart common.Address
	// Escrow holds the tokens backing the supply of the source domain.
	Escrow common.Address
}

// Settlement is the gateway on the settlement domain paired with one source gateway.
// It acts only on messages from its counterpart, each consumed exactly once.
type Settlement struct {
	log       log.Logger
	cfg       SettlementConfig
	token     *ledger.Token
	router    Router
	messenger *messenger.Messenger
}

var _ messenger.Receiver = (*Settlement)(nil)

func NewSettlement(logger log.Logger, cfg SettlementConfig, token *ledger.Token, r Router, msgr *messenger.Messenger) (*Settlement, error) {
	if msgr.Target() != cfg.Domain {
		return nil, fmt.Errorf("messenger carries messages to %s, not %s", msgr.Target(), cfg.Domain)
	}
	// the router pulls flushed tokens from the gateway when settling
	if err := token.Approve(cfg.Address, r.Address(), ledger.MaxAllowance); err != nil {
		return nil, err
	}
	return &Settlement{
		log:       logger.New("gateway", "settlement", "domain", cfg.Domain, "source", msgr.Source()),
		cfg:       cfg,
		token:     token,
		router:    r,
		messenger: msgr,
	}, nil
}

func (s *Settlement) Address() common.Address {
	return s.cfg.Address
}

// SourceDomain is the domain of the counterpart gateway.
func (s *Settlement) SourceDomain() types.Domain {
	return s.messenger.Source()
}

func (s *Settlement) ReceiveMessage(ctx context.Context, msg messenger.Message) error {
	switch msg.Kind {
	case messenger.KindFinalizeRegisterTeleport:
		return s.FinalizeRegisterTeleport(ctx, msg)
	case messenger.KindFinalizeFlush:
		return s.FinalizeFlush(ctx, msg)
	default:
		return fmt.Errorf("%w: settlement gateway does not handle %s", types.ErrInvalidMessage, msg.Kind)
	}
}

func (s *Settlement) authenticate(msg *messenger.Message, kind messenger.Kind) error {
	if msg.Source != s.messenger.Source() || msg.Sender != s.cfg.Counterpart {
		return fmt.Errorf("%w: message from %s on %s", types.ErrNotAuthorized, msg.Sender, msg.Source)
	}
	if msg.Receiver != s.cfg.Address || msg.Kind != kind {
		return fmt.Errorf("%w: %s message to %s", types.ErrInvalidMessage, msg.Kind, msg.Receiver)
	}
	return nil
}

// FinalizeRegisterTeleport consumes a registration message and requests the mint through the router,
// without fee and without attestations.
func (s *Settlement) FinalizeRegisterTeleport(ctx context.Context, msg messenger.Message) error {
	if err := s.authenticate(&msg, messenger.KindFinalizeRegisterTeleport); err != nil {
		return err
	}
	guid, err := messenger.DecodeRegisterTeleport(msg.Payload)
	if err != nil {
		return err
	}
	return s.messenger.Consume(ctx, msg, func() error {
		minted, err := s.router.RequestMint(ctx, s.cfg.Address, guid, new(uint256.Int), new(uint256.Int))
		if err != nil {
			return err
		}
		s.log.Info("Finalized teleport registration", "guid", guid.Hash(), "minted", minted.Amount, "pending", minted.Pending)
		return nil
	})
}

// FinalizeFlush consumes a flush message, takes the flushed amount from the escrow and settles it.
func (s *Settlement) FinalizeFlush(ctx context.Context, msg messenger.Message) error {
	if err := s.authenticate(&msg, messenger.KindFinalizeFlush); err != nil {
		return err
	}
	flush, err := messenger.DecodeFlush(msg.Payload)
	if err != nil {
		return err
	}
	return s.messenger.Consume(ctx, msg, func() error {
		return s.finalizeFlush(ctx, flush)
	})
}

func (s *Settlement) finalizeFlush(ctx context.Context, flush messenger.Flush) error {
	if err := s.token.TransferFrom(s.cfg.Address, s.cfg.Escrow, s.cfg.Address, flush.Amount); err != nil {
		return fmt.Errorf("failed to take flushed tokens from escrow: %w", err)
	}
	if err := s.router.Settle(ctx, s.cfg.Address, flush.TargetDomain, flush.Amount); err != nil {
		if rerr := s.token.Transfer(s.cfg.Address, s.cfg.Escrow, flush.Amount); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return err
	}
	s.log.Info("Settled flush", "target", flush.TargetDomain, "amount", flush.Amount)
	return nil
}
