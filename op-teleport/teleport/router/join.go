package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/auth"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/debt"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Minted is the outcome of a mint request.
type Minted struct {
	// Amount taken from the teleport now: the sum of the three payouts.
	Amount      *uint256.Int `json:"amount"`
	Fee         *uint256.Int `json:"fee"`
	OperatorFee *uint256.Int `json:"operatorFee"`
	// Pending is what is left to mint once the debt ceiling allows.
	Pending *uint256.Int         `json:"pending"`
	Status  types.TeleportStatus `json:"status"`
}

// Record is the state of a teleport on its target domain.
type Record struct {
	GUID    *types.TeleportGUID  `json:"guid"`
	Status  types.TeleportStatus `json:"status"`
	Pending *uint256.Int         `json:"pending"`
}

type JoinConfig struct {
	Domain  types.Domain
	Address common.Address
	// Vow receives the fees.
	Vow   common.Address
	Owner common.Address
	Now   func() time.Time
}

// Join mints teleported tokens on the target domain, and burns them again when the
// source domain settles. Debt per source domain is what was minted and not settled yet;
// surplus is what was settled before it was minted.
type Join struct {
	log log.Logger
	m   Metrics
	cfg JoinConfig
	*auth.Wards
	token *ledger.Token

	mu        sync.Mutex
	root      *store.Table
	teleports *store.Table
	debt      *debt.Ledger
	surplus   *debt.Ledger
	lines     map[types.Domain]*uint256.Int
	fees      map[types.Domain]FeeCalculator
}

var _ TargetGateway = (*Join)(nil)

const (
	teleportsPrefix = "teleports"
	replaysPrefix   = "replays"
)

func replayKey(guid *types.TeleportGUID) string {
	return fmt.Sprintf("%s/%s-%d", replaysPrefix, hexutil.Encode(guid.SourceDomain[:]), guid.Nonce)
}

func NewJoin(ctx context.Context, logger log.Logger, m Metrics, cfg JoinConfig, st *store.Store, token *ledger.Token) (*Join, error) {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	tbl := st.Table("join").Sub(cfg.Domain.Name())
	j := &Join{
		log:       logger.New("join", cfg.Domain),
		m:         m,
		cfg:       cfg,
		Wards:     auth.NewWards(cfg.Owner),
		token:     token,
		root:      tbl,
		teleports: tbl.Sub(teleportsPrefix),
		lines:     make(map[types.Domain]*uint256.Int),
		fees:      make(map[types.Domain]FeeCalculator),
	}
	var err error
	if j.debt, err = debt.Load(ctx, tbl.Sub("debt")); err != nil {
		return nil, err
	}
	if j.surplus, err = debt.Load(ctx, tbl.Sub("surplus")); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Join) Address() common.Address {
	return j.cfg.Address
}

func (j *Join) Domain() types.Domain {
	return j.cfg.Domain
}

// FileLine sets the debt ceiling of a source domain. A nil line removes the ceiling.
func (j *Join) FileLine(caller common.Address, source types.Domain, line *uint256.Int) error {
	if err := j.Check(caller); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if line == nil {
		delete(j.lines, source)
	} else {
		j.lines[source] = line.Clone()
	}
	return nil
}

// FileFees sets the fee calculator of a source domain. Without one, no fee is charged.
func (j *Join) FileFees(caller common.Address, source types.Domain, fees FeeCalculator) error {
	if err := j.Check(caller); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fees[source] = fees
	return nil
}

// Debt returns the unsettled debt and the settled-but-unminted surplus of a source domain.
func (j *Join) Debt(source types.Domain) (owed, surplus *uint256.Int) {
	return j.debt.Get(source), j.surplus.Get(source)
}

// Status returns the record of the teleport with the given GUID hash.
func (j *Join) Status(ctx context.Context, h common.Hash) (Record, error) {
	var rec Record
	err := j.teleports.GetJSON(ctx, h.Hex(), &rec)
	if errors.Is(err, store.ErrNotFound) {
		return Record{Status: types.StatusUnknown, Pending: new(uint256.Int)}, nil
	}
	return rec, err
}

// RequestMint registers the teleport and mints as much of it as the debt ceiling allows.
// Each teleport registers once: a GUID, or another GUID with the same source domain and nonce,
// seen before fails with ErrReplayedGUID.
func (j *Join) RequestMint(ctx context.Context, caller common.Address, guid *types.TeleportGUID, maxFeePct, operatorFee *uint256.Int) (Minted, error) {
	if err := j.Check(caller); err != nil {
		return Minted{}, err
	}
	if err := guid.Check(); err != nil {
		return Minted{}, err
	}
	if guid.TargetDomain != j.cfg.Domain {
		return Minted{}, fmt.Errorf("%w: teleport to %s minted on %s", types.ErrInvalidDomain, guid.TargetDomain, j.cfg.Domain)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	h := guid.Hash()
	if ok, err := j.teleports.Has(ctx, h.Hex()); err != nil {
		return Minted{}, err
	} else if ok {
		return Minted{}, fmt.Errorf("%w: %s", types.ErrReplayedGUID, h)
	}
	if ok, err := j.root.Has(ctx, replayKey(guid)); err != nil {
		return Minted{}, err
	} else if ok {
		return Minted{}, fmt.Errorf("%w: nonce %s already used", types.ErrReplayedGUID, guid.ReplayKey())
	}
	rec := Record{GUID: guid, Status: types.StatusRegistered, Pending: guid.Amount.Clone()}
	minted, err := j.mint(ctx, &rec, maxFeePct, operatorFee, true)
	if err != nil {
		return Minted{}, err
	}
	j.log.Info("Teleport registered", "guid", h, "source", guid.SourceDomain, "nonce", guid.Nonce,
		"minted", minted.Amount, "pending", minted.Pending)
	return minted, nil
}

// MintPending mints what the debt ceiling held back on registration.
// Only the receiver or the operator of the teleport may ask for it.
func (j *Join) MintPending(ctx context.Context, caller common.Address, guid *types.TeleportGUID, maxFeePct, operatorFee *uint256.Int) (Minted, error) {
	if caller != guid.Receiver.Address() && caller != guid.Operator.Address() {
		return Minted{}, fmt.Errorf("%w: %s", types.ErrNotOperator, caller)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	h := guid.Hash()
	rec, err := j.Status(ctx, h)
	if err != nil {
		return Minted{}, err
	}
	switch rec.Status {
	case types.StatusUnknown:
		return Minted{}, fmt.Errorf("%w: %s", types.ErrNotMinted, h)
	case types.StatusFinalized:
		return Minted{}, fmt.Errorf("%w: %s is fully minted", types.ErrReplayedGUID, h)
	}
	minted, err := j.mint(ctx, &rec, maxFeePct, operatorFee, false)
	if err != nil {
		return Minted{}, err
	}
	j.log.Info("Minted pending teleport", "guid", h, "minted", minted.Amount, "pending", minted.Pending)
	return minted, nil
}

// mint takes as much of the pending amount as the ceiling allows and pays it out.
// The record, the debt and the payouts change together; on failure nothing changes.
// A new registration also writes the replay marker of the teleport.
func (j *Join) mint(ctx context.Context, rec *Record, maxFeePct, operatorFee *uint256.Int, register bool) (Minted, error) {
	guid := rec.GUID
	source := guid.SourceDomain
	debtNow, surplusNow := j.debt.Get(source), j.surplus.Get(source)

	amount := rec.Pending.Clone()
	line, capped := j.lines[source]
	if capped {
		// room = line + surplus - debt, saturating at zero
		room, overflow := new(uint256.Int).AddOverflow(line, surplusNow)
		if overflow {
			room.SetAllOne()
		}
		if room.Lt(debtNow) {
			room.Clear()
		} else {
			room.Sub(room, debtNow)
		}
		if room.Lt(amount) {
			amount = room
		}
	} else {
		line = new(uint256.Int).SetAllOne()
	}

	fee := new(uint256.Int)
	if calc, ok := j.fees[source]; ok && !amount.IsZero() {
		fee = calc.Fee(guid, line, debtNow, rec.Pending, amount, j.cfg.Now())
	}
	if operatorFee == nil {
		operatorFee = new(uint256.Int)
	}
	if maxFeePct == nil {
		maxFeePct = new(uint256.Int)
	}
	if fee.Gt(maxFee(amount, maxFeePct)) {
		return Minted{}, fmt.Errorf("%w: fee %v exceeds the accepted maximum", types.ErrFeeTooHigh, fee)
	}
	fees, overflow := new(uint256.Int).AddOverflow(fee, operatorFee)
	if overflow || fees.Gt(amount) {
		return Minted{}, fmt.Errorf("%w: fee %v and operator fee %v exceed %v", types.ErrFeeTooHigh, fee, operatorFee, amount)
	}

	next := *rec
	next.Pending = new(uint256.Int).Sub(rec.Pending, amount)
	if next.Pending.IsZero() {
		next.Status = types.StatusFinalized
	}
	minted := Minted{
		Amount:      amount,
		Fee:         fee,
		OperatorFee: operatorFee.Clone(),
		Pending:     next.Pending.Clone(),
		Status:      next.Status,
	}

	// state changes from here on, undone in reverse on failure
	var undo []func() error
	rollback := func(err error) (Minted, error) {
		for i := len(undo) - 1; i >= 0; i-- {
			if uerr := undo[i](); uerr != nil {
				err = errors.Join(err, uerr)
			}
		}
		return Minted{}, err
	}

	fromSurplus, err := j.surplus.SubUpTo(ctx, source, amount)
	if err != nil {
		return Minted{}, err
	}
	undo = append(undo, func() error {
		_, err := j.surplus.Add(ctx, source, fromSurplus)
		return err
	})
	fromDebt := new(uint256.Int).Sub(amount, fromSurplus)
	if _, err := j.debt.Add(ctx, source, fromDebt); err != nil {
		return rollback(err)
	}
	undo = append(undo, func() error {
		_, err := j.debt.Sub(ctx, source, fromDebt)
		return err
	})

	recKey := teleportsPrefix + "/" + guid.Hash().Hex()
	recData, err := json.Marshal(&next)
	if err != nil {
		return rollback(fmt.Errorf("failed to encode teleport: %w", err))
	}
	entries := []store.Entry{{Key: recKey, Value: recData}}
	if register {
		entries = append(entries, store.Entry{Key: replayKey(guid), Value: guid.Hash().Bytes()})
	}
	if err := j.root.PutAll(ctx, entries...); err != nil {
		return rollback(fmt.Errorf("failed to persist teleport: %w", err))
	}
	prev := *rec
	undo = append(undo, func() error {
		if register {
			return errors.Join(j.root.Delete(ctx, recKey), j.root.Delete(ctx, replayKey(guid)))
		}
		return j.root.PutJSON(ctx, recKey, &prev)
	})

	if err := j.payout(guid, minted); err != nil {
		return rollback(err)
	}
	*rec = next
	j.m.RecordMint(source, amount, fee)
	return minted, nil
}

func (j *Join) payout(guid *types.TeleportGUID, minted Minted) error {
	if minted.Amount.IsZero() {
		return nil
	}
	toReceiver := new(uint256.Int).Sub(minted.Amount, minted.Fee)
	toReceiver.Sub(toReceiver, minted.OperatorFee)
	if err := j.token.Mint(j.cfg.Address, guid.Receiver.Address(), toReceiver); err != nil {
		return fmt.Errorf("failed to mint to receiver: %w", err)
	}
	// the join is a ward of the token, so minting can only fail on supply overflow, checked just above
	if !minted.OperatorFee.IsZero() {
		if err := j.token.Mint(j.cfg.Address, guid.Operator.Address(), minted.OperatorFee); err != nil {
			return fmt.Errorf("failed to mint operator fee: %w", err)
		}
	}
	if !minted.Fee.IsZero() {
		if err := j.token.Mint(j.cfg.Address, j.cfg.Vow, minted.Fee); err != nil {
			return fmt.Errorf("failed to mint fee: %w", err)
		}
	}
	return nil
}

// Settle burns amount, pulled from caller, against the debt of the source domain.
// What exceeds the debt is kept as surplus, to be netted against future mints.
func (j *Join) Settle(ctx context.Context, caller common.Address, source, target types.Domain, amount *uint256.Int) error {
	if err := j.Check(caller); err != nil {
		return err
	}
	if target != j.cfg.Domain {
		return fmt.Errorf("%w: settlement for %s on %s", types.ErrInvalidDomain, target, j.cfg.Domain)
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%w: nothing to settle", types.ErrInvalidAmount)
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.token.Burn(j.cfg.Address, caller, amount); err != nil {
		return fmt.Errorf("failed to burn settled tokens: %w", err)
	}
	fromDebt, err := j.debt.SubUpTo(ctx, source, amount)
	if err != nil {
		return errors.Join(err, j.token.Mint(j.cfg.Address, caller, amount))
	}
	excess := new(uint256.Int).Sub(amount, fromDebt)
	if !excess.IsZero() {
		if _, err := j.surplus.Add(ctx, source, excess); err != nil {
			_, derr := j.debt.Add(ctx, source, fromDebt)
			return errors.Join(err, derr, j.token.Mint(j.cfg.Address, caller, amount))
		}
	}
	j.m.RecordSettle(source, amount)
	j.log.Info("Settled", "source", source, "amount", amount, "debt", j.debt.Get(source), "surplus", j.surplus.Get(source))
	return nil
}
