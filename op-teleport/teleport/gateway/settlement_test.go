package gateway

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/teleport/op-service/testlog"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/ledger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/messenger"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/router"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

var (
	escrowAddr = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	joinAddr   = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	routerAddr = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type noopRouterMetrics struct{}

func (noopRouterMetrics) RecordMint(types.Domain, *uint256.Int, *uint256.Int) {}
func (noopRouterMetrics) RecordSettle(types.Domain, *uint256.Int)             {}
func (noopRouterMetrics) RecordSignatureCheck(error)                          {}

type settlementEnv struct {
	*sourceEnv
	l1Token    *ledger.Token
	escrow     *ledger.Escrow
	join       *router.Join
	settlement *Settlement
}

func setupSettlement(t *testing.T) *settlementEnv {
	ctx := context.Background()
	logger := testlog.Logger(t, log.LevelDebug)
	env := &settlementEnv{sourceEnv: setupSource(t)}
	st := store.NewMemory()

	env.l1Token = ledger.NewToken(logger, "TKN", owner)
	env.escrow = ledger.NewEscrow(escrowAddr, owner)
	// the escrow backs the supply on L2
	require.NoError(t, env.l1Token.Mint(owner, escrowAddr, env.token.TotalSupply()))

	join, err := router.NewJoin(ctx, logger, noopRouterMetrics{}, router.JoinConfig{
		Domain:  l1,
		Address: joinAddr,
		Vow:     owner,
		Owner:   owner,
	}, st, env.l1Token)
	require.NoError(t, err)
	env.join = join
	require.NoError(t, env.l1Token.Rely(owner, joinAddr))

	r := router.NewRouter(logger, router.RouterConfig{Address: routerAddr, Owner: owner}, env.l1Token)
	require.NoError(t, r.FileGateway(owner, l1, joinAddr, join))
	require.NoError(t, r.FileGateway(owner, l2, settleAddr, nil))
	require.NoError(t, join.Rely(owner, routerAddr))

	env.settlement, err = NewSettlement(logger, SettlementConfig{
		Domain:      l1,
		Address:     settleAddr,
		Counterpart: sourceAddr,
		Escrow:      escrowAddr,
	}, env.l1Token, r, env.msgr)
	require.NoError(t, err)
	require.NoError(t, env.escrow.Approve(owner, env.l1Token, settleAddr, ledger.MaxAllowance))
	return env
}

// deliver hands every undelivered message to the settlement gateway, and returns the errors.
func (env *settlementEnv) deliver(t *testing.T) []error {
	ctx := context.Background()
	envs, err := env.msgr.Undelivered(ctx)
	require.NoError(t, err)
	var errs []error
	for _, e := range envs {
		err := env.settlement.ReceiveMessage(ctx, e.Message)
		if err == nil {
			e.Status = messenger.EnvelopeDelivered
		} else {
			e.Status = messenger.EnvelopeDropped
		}
		require.NoError(t, env.msgr.UpdateEnvelope(ctx, e))
		errs = append(errs, err)
	}
	return errs
}

func TestFlushSettlement(t *testing.T) {
	ctx := context.Background()
	env := setupSettlement(t)
	escrowBefore := env.escrow.Balance(env.l1Token).Uint64()
	guid := env.initiate(t, 100)
	require.Equal(t, uint64(100), env.src.BatchedDebt(l1).Uint64())

	// slow path registration mints on L1
	_, err := env.src.FinalizeRegisterTeleport(ctx, user, guid.TargetDomain, guid.Receiver, guid.Amount,
		guid.Operator, guid.Nonce, guid.Timestamp)
	require.NoError(t, err)
	require.Equal(t, []error{nil}, env.deliver(t))
	require.Equal(t, uint64(100), env.l1Token.BalanceOf(user).Uint64())
	owed, _ := env.join.Debt(l2)
	require.Equal(t, uint64(100), owed.Uint64())

	amount, err := env.src.Flush(ctx, l1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), amount.Uint64())
	require.True(t, env.src.BatchedDebt(l1).IsZero())
	require.Equal(t, []error{nil}, env.deliver(t))

	require.Equal(t, escrowBefore-100, env.escrow.Balance(env.l1Token).Uint64())
	owed, surplus := env.join.Debt(l2)
	require.True(t, owed.IsZero())
	require.True(t, surplus.IsZero())
	require.True(t, env.l1Token.BalanceOf(settleAddr).IsZero())
	require.True(t, env.l1Token.BalanceOf(routerAddr).IsZero())
}

func TestRegistrationConsumedOnce(t *testing.T) {
	ctx := context.Background()
	env := setupSettlement(t)
	guid := env.initiate(t, 100)

	send := func() messenger.Message {
		h, err := env.src.FinalizeRegisterTeleport(ctx, user, guid.TargetDomain, guid.Receiver, guid.Amount,
			guid.Operator, guid.Nonce, guid.Timestamp)
		require.NoError(t, err)
		envs, err := env.msgr.Undelivered(ctx)
		require.NoError(t, err)
		for _, e := range envs {
			if e.Message.Hash() == h {
				return e.Message
			}
		}
		t.Fatal("registration message not found")
		return messenger.Message{}
	}

	msg := send()
	require.NoError(t, env.settlement.ReceiveMessage(ctx, msg))
	// redelivery of the same copy is not consumable
	require.ErrorIs(t, env.settlement.ReceiveMessage(ctx, msg), types.ErrUnknownMessage)

	// a second registration of the same teleport is a replay, and stays unconsumed
	msg = send()
	require.ErrorIs(t, env.settlement.ReceiveMessage(ctx, msg), types.ErrReplayedGUID)
	require.Equal(t, uint64(1), env.msgr.Pending(msg.Hash()))
	require.Equal(t, uint64(100), env.l1Token.BalanceOf(user).Uint64())
}

func TestSettlementRejectsForeignMessages(t *testing.T) {
	ctx := context.Background()
	env := setupSettlement(t)
	env.initiate(t, 100)
	_, err := env.src.Flush(ctx, l1)
	require.NoError(t, err)
	envs, err := env.msgr.Undelivered(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	forged := envs[0].Message
	forged.Sender = stranger
	require.ErrorIs(t, env.settlement.ReceiveMessage(ctx, forged), types.ErrNotAuthorized)

	wrongKind := envs[0].Message
	wrongKind.Kind = messenger.KindFinalizeDeposit
	require.ErrorIs(t, env.settlement.ReceiveMessage(ctx, wrongKind), types.ErrInvalidMessage)

	// a message that was never sent is not consumable
	unsent := envs[0].Message
	unsent.Payload = messenger.EncodeFlush(messenger.Flush{TargetDomain: l1, Amount: uint256.NewInt(1_000_000)})
	require.ErrorIs(t, env.settlement.ReceiveMessage(ctx, unsent), types.ErrUnknownMessage)

	require.Equal(t, uint64(1), env.msgr.Pending(envs[0].Message.Hash()))
}

func TestFlushToUnknownDomainKeepsEscrow(t *testing.T) {
	ctx := context.Background()
	env := setupSettlement(t)
	other := types.MustDomain("L2-B")
	require.NoError(t, env.src.File(ctx, owner, ValidDomains, other, 1))
	_, err := env.src.InitiateTeleport(ctx, user, other, types.AddressToBytes32(user), uint256.NewInt(40), types.Bytes32{})
	require.NoError(t, err)
	_, err = env.src.Flush(ctx, other)
	require.NoError(t, err)

	escrowBefore := env.escrow.Balance(env.l1Token)
	errs := env.deliver(t)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], types.ErrInvalidDomain)
	require.Equal(t, escrowBefore, env.escrow.Balance(env.l1Token))
	require.True(t, env.l1Token.BalanceOf(settleAddr).IsZero())
}
