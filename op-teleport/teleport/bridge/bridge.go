// Package bridge implements the slow path token bridge between the settlement domain and a source
// domain. Deposits lock tokens in the settlement domain escrow and mint them on the source domain;
// withdrawals burn on the source domain and release from the escrow once the message arrives.
package bridge

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
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/messenger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

const closedKey = "closed"

type Config struct {
	Domain types.Domain
	// Address of the bridge on its own domain.
	Address common.Address
	// Counterpart is the bridge on the other domain.
	Counterpart common.Address
	Owner       common.Address
}

// bridge holds what both ends share: the closed flag, wards and the two message directions.
type bridge struct {
	log log.Logger
	cfg Config
	*auth.Wards

	token *ledger.Token
	// out carries messages to the counterpart, in carries the counterpart's messages here.
	out *messenger.Messenger
	in  *messenger.Messenger

	mu     sync.Mutex
	state  *store.Table
	closed bool
}

func newBridge(ctx context.Context, logger log.Logger, cfg Config, st *store.Store, token *ledger.Token,
	out, in *messenger.Messenger) (*bridge, error) {
	if out.Source() != cfg.Domain || in.Target() != cfg.Domain {
		return nil, fmt.Errorf("messengers %s->%s and %s->%s do not connect %s", out.Source(), out.Target(),
			in.Source(), in.Target(), cfg.Domain)
	}
	if out.Target() != in.Source() {
		return nil, fmt.Errorf("messengers lead to %s but arrive from %s", out.Target(), in.Source())
	}
	b := &bridge{
		log:   logger,
		cfg:   cfg,
		Wards: auth.NewWards(cfg.Owner),
		token: token,
		out:   out,
		in:    in,
		state: st.Table("bridge").Sub(cfg.Domain.Name()).Sub(cfg.Address.Hex()),
	}
	var err error
	if b.closed, err = b.state.Has(ctx, closedKey); err != nil {
		return nil, fmt.Errorf("failed to load closed flag: %w", err)
	}
	return b, nil
}

func (b *bridge) Address() common.Address {
	return b.cfg.Address
}

func (b *bridge) Domain() types.Domain {
	return b.cfg.Domain
}

func (b *bridge) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed
}

// Close stops new deposits and withdrawals. Messages already sent can still be finalized.
func (b *bridge) Close(ctx context.Context, caller common.Address) error {
	if err := b.Check(caller); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	if err := b.state.Put(ctx, closedKey, []byte{1}); err != nil {
		return fmt.Errorf("failed to persist closed flag: %w", err)
	}
	b.closed = true
	b.log.Warn("Bridge closed", "caller", caller)
	return nil
}

// open checks a new transfer can start; b.mu must be held.
func (b *bridge) open(amount *uint256.Int) error {
	if b.closed {
		return types.ErrGatewayClosed
	}
	if !types.ValidAmount(amount) {
		return fmt.Errorf("%w: %v", types.ErrInvalidAmount, amount)
	}
	return nil
}

func (b *bridge) send(ctx context.Context, kind messenger.Kind, tr messenger.Transfer) (common.Hash, error) {
	return b.out.Send(ctx, messenger.Message{
		Source:   b.cfg.Domain,
		Target:   b.out.Target(),
		Sender:   b.cfg.Address,
		Receiver: b.cfg.Counterpart,
		Kind:     kind,
		Payload:  messenger.EncodeTransfer(tr),
	})
}

// receive authenticates a message from the counterpart and consumes it with fn.
func (b *bridge) receive(ctx context.Context, msg messenger.Message, kind messenger.Kind,
	fn func(tr messenger.Transfer) error) error {
	if msg.Source != b.in.Source() || msg.Sender != b.cfg.Counterpart {
		return fmt.Errorf("%w: message from %s on %s", types.ErrNotAuthorized, msg.Sender, msg.Source)
	}
	if msg.Receiver != b.cfg.Address || msg.Kind != kind {
		return fmt.Errorf("%w: %s message to %s", types.ErrInvalidMessage, msg.Kind, msg.Receiver)
	}
	tr, err := messenger.DecodeTransfer(msg.Payload)
	if err != nil {
		return err
	}
	if !types.ValidAmount(tr.Amount) {
		return fmt.Errorf("%w: transfer of %v", types.ErrInvalidMessage, tr.Amount)
	}
	return b.in.Consume(ctx, msg, func() error {
		return fn(tr)
	})
}

// L1Bridge is the settlement domain end. It locks deposits in the escrow, which must allow
// the bridge to move its tokens.
type L1Bridge struct {
	*bridge
	escrow common.Address
}

var _ messenger.Receiver = (*L1Bridge)(nil)

func NewL1Bridge(ctx context.Context, logger log.Logger, cfg Config, escrow common.Address, st *store.Store,
	token *ledger.Token, out, in *messenger.Messenger) (*L1Bridge, error) {
	b, err := newBridge(ctx, logger.New("bridge", "l1", "domain", cfg.Domain), cfg, st, token, out, in)
	if err != nil {
		return nil, err
	}
	return &L1Bridge{bridge: b, escrow: escrow}, nil
}

// Deposit moves amount from caller into the escrow, and sends the deposit to the other domain.
// The caller must have approved the bridge.
func (b *L1Bridge) Deposit(ctx context.Context, caller, to common.Address, amount *uint256.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.open(amount); err != nil {
		return common.Hash{}, err
	}
	if err := b.token.TransferFrom(b.cfg.Address, caller, b.escrow, amount); err != nil {
		return common.Hash{}, err
	}
	h, err := b.send(ctx, messenger.KindFinalizeDeposit, messenger.Transfer{From: caller, To: to, Amount: amount})
	if err != nil {
		if rerr := b.token.TransferFrom(b.cfg.Address, b.escrow, caller, amount); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return common.Hash{}, err
	}
	b.log.Info("Deposited", "from", caller, "to", to, "amount", amount, "msg", h)
	return h, nil
}

func (b *L1Bridge) ReceiveMessage(ctx context.Context, msg messenger.Message) error {
	return b.FinalizeWithdrawal(ctx, msg)
}

// FinalizeWithdrawal releases a withdrawal from the escrow to its recipient. It works on a closed bridge.
func (b *L1Bridge) FinalizeWithdrawal(ctx context.Context, msg messenger.Message) error {
	return b.receive(ctx, msg, messenger.KindFinalizeWithdrawal, func(tr messenger.Transfer) error {
		if err := b.token.TransferFrom(b.cfg.Address, b.escrow, tr.To, tr.Amount); err != nil {
			return fmt.Errorf("failed to release withdrawal: %w", err)
		}
		b.log.Info("Finalized withdrawal", "from", tr.From, "to", tr.To, "amount", tr.Amount)
		return nil
	})
}

// L2Bridge is the source domain end. It must be a ward of the token to mint deposits.
type L2Bridge struct {
	*bridge
}

var _ messenger.Receiver = (*L2Bridge)(nil)

func NewL2Bridge(ctx context.Context, logger log.Logger, cfg Config, st *store.Store, token *ledger.Token,
	out, in *messenger.Messenger) (*L2Bridge, error) {
	b, err := newBridge(ctx, logger.New("bridge", "l2", "domain", cfg.Domain), cfg, st, token, out, in)
	if err != nil {
		return nil, err
	}
	return &L2Bridge{bridge: b}, nil
}

// Withdraw burns amount from caller and sends the withdrawal to the settlement domain.
// The caller must have approved the bridge.
func (b *L2Bridge) Withdraw(ctx context.Context, caller, to common.Address, amount *uint256.Int) (common.Hash, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.open(amount); err != nil {
		return common.Hash{}, err
	}
	if err := b.token.Burn(b.cfg.Address, caller, amount); err != nil {
		return common.Hash{}, err
	}
	h, err := b.send(ctx, messenger.KindFinalizeWithdrawal, messenger.Transfer{From: caller, To: to, Amount: amount})
	if err != nil {
		if merr := b.token.Mint(b.cfg.Address, caller, amount); merr != nil {
			err = errors.Join(err, merr)
		}
		return common.Hash{}, err
	}
	b.log.Info("Withdrew", "from", caller, "to", to, "amount", amount, "msg", h)
	return h, nil
}

func (b *L2Bridge) ReceiveMessage(ctx context.Context, msg messenger.Message) error {
	return b.FinalizeDeposit(ctx, msg)
}

// FinalizeDeposit mints a deposit to its recipient. It works on a closed bridge.
func (b *L2Bridge) FinalizeDeposit(ctx context.Context, msg messenger.Message) error {
	return b.receive(ctx, msg, messenger.KindFinalizeDeposit, func(tr messenger.Transfer) error {
		if err := b.token.Mint(b.cfg.Address, tr.To, tr.Amount); err != nil {
			return fmt.Errorf("failed to mint deposit: %w", err)
		}
		b.log.Info("Finalized deposit", "from", tr.From, "to", tr.To, "amount", tr.Amount)
		return nil
	})
}
