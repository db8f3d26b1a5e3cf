package messenger

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/teleport/op-service/testlog"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

var (
	l1 = types.MustDomain("L1")
	l2 = types.MustDomain("L2")
)

func newMessenger(t *testing.T, st *store.Store) *Messenger {
	m, err := New(context.Background(), testlog.Logger(t, log.LevelDebug), st, l2, l1)
	require.NoError(t, err)
	return m
}

func flushMsg(amount uint64) Message {
	return Message{
		Source:   l2,
		Target:   l1,
		Sender:   common.Address{0x02},
		Receiver: common.Address{0x01},
		Kind:     KindFinalizeFlush,
		Payload:  EncodeFlush(Flush{TargetDomain: l1, Amount: uint256.NewInt(amount)}),
	}
}

func TestConsumeExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := newMessenger(t, store.NewMemory())
	msg := flushMsg(100)

	calls := 0
	consume := func() error {
		calls++
		return nil
	}
	require.ErrorIs(t, m.Consume(ctx, msg, consume), types.ErrUnknownMessage)

	h, err := m.Send(ctx, msg)
	require.NoError(t, err)
	require.Equal(t, msg.Hash(), h)
	require.Equal(t, uint64(1), m.Pending(h))

	require.NoError(t, m.Consume(ctx, msg, consume))
	require.ErrorIs(t, m.Consume(ctx, msg, consume), types.ErrUnknownMessage)
	require.Equal(t, 1, calls)
	require.Equal(t, uint64(0), m.Pending(h))
}

func TestConsumeFailureKeepsMessage(t *testing.T) {
	ctx := context.Background()
	m := newMessenger(t, store.NewMemory())
	msg := flushMsg(5)
	_, err := m.Send(ctx, msg)
	require.NoError(t, err)

	errBoom := errors.New("boom")
	require.ErrorIs(t, m.Consume(ctx, msg, func() error { return errBoom }), errBoom)
	require.Equal(t, uint64(1), m.Pending(msg.Hash()))
	require.NoError(t, m.Consume(ctx, msg, func() error { return nil }))
}

func TestConsumePersistsBeforeApplying(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := newMessenger(t, st)
	msg := flushMsg(6)
	_, err := m.Send(ctx, msg)
	require.NoError(t, err)

	// while fn runs, the copy is already used up on disk
	errBoom := errors.New("boom")
	require.ErrorIs(t, m.Consume(ctx, msg, func() error {
		require.Equal(t, uint64(0), newMessenger(t, st).Pending(msg.Hash()))
		return errBoom
	}), errBoom)
	require.Equal(t, uint64(1), newMessenger(t, st).Pending(msg.Hash()), "failed consumption is restored on disk")

	require.NoError(t, m.Consume(ctx, msg, func() error {
		require.Equal(t, uint64(0), newMessenger(t, st).Pending(msg.Hash()))
		return nil
	}))
	require.Equal(t, uint64(0), newMessenger(t, st).Pending(msg.Hash()))
}

func TestIdenticalMessagesCounted(t *testing.T) {
	ctx := context.Background()
	m := newMessenger(t, store.NewMemory())
	msg := flushMsg(7)
	for i := 0; i < 2; i++ {
		_, err := m.Send(ctx, msg)
		require.NoError(t, err)
	}
	require.Equal(t, uint64(2), m.Pending(msg.Hash()))
	envs, err := m.Undelivered(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	require.Equal(t, uint64(0), envs[0].Seq)
	require.Equal(t, uint64(1), envs[1].Seq)
}

func TestSendWrongDirection(t *testing.T) {
	m := newMessenger(t, store.NewMemory())
	msg := flushMsg(1)
	msg.Source, msg.Target = l1, l2
	_, err := m.Send(context.Background(), msg)
	require.ErrorIs(t, err, types.ErrInvalidMessage)
}

func TestMessengerReload(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	m := newMessenger(t, st)
	msg := flushMsg(9)
	_, err := m.Send(ctx, msg)
	require.NoError(t, err)

	reloaded := newMessenger(t, st)
	require.Equal(t, uint64(1), reloaded.Pending(msg.Hash()))
	_, err = reloaded.Send(ctx, flushMsg(10))
	require.NoError(t, err)
	env, err := reloaded.Envelope(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), env.Seq)
	_, err = reloaded.Envelope(ctx, 2)
	require.ErrorIs(t, err, types.ErrUnknownMessage)
}

func TestPayloadCodecs(t *testing.T) {
	f, err := DecodeFlush(EncodeFlush(Flush{TargetDomain: l1, Amount: uint256.NewInt(42)}))
	require.NoError(t, err)
	require.Equal(t, l1, f.TargetDomain)
	require.Equal(t, uint64(42), f.Amount.Uint64())

	tr := Transfer{From: common.Address{0x01}, To: common.Address{0x02}, Amount: uint256.NewInt(3)}
	got, err := DecodeTransfer(EncodeTransfer(tr))
	require.NoError(t, err)
	require.Equal(t, tr, got)

	_, err = DecodeFlush([]byte{1, 2, 3})
	require.ErrorIs(t, err, types.ErrInvalidMessage)
	_, err = DecodeRegisterTeleport(make([]byte, 10))
	require.ErrorIs(t, err, types.ErrInvalidMessage)
	require.Equal(t, "finalize_flush", KindFinalizeFlush.String())
}
