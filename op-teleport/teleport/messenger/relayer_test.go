package messenger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mantlenetworkio/teleport/op-service/testlog"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type mockReceiver struct {
	mock.Mock
	m *Messenger
}

func (r *mockReceiver) ReceiveMessage(ctx context.Context, msg Message) error {
	return r.m.Consume(ctx, msg, func() error {
		return r.MethodCalled("ReceiveMessage", msg.Kind).Error(0)
	})
}

type relayMetrics struct {
	relayed, retried, dropped int
}

func (r *relayMetrics) RecordRelayed(string) { r.relayed++ }
func (r *relayMetrics) RecordRelayFailed(_ string, permanent bool) {
	if permanent {
		r.dropped++
	} else {
		r.retried++
	}
}

func setupRelayer(t *testing.T) (*Relayer, *Messenger, *mockReceiver, *relayMetrics) {
	return setupRelayerWithLogger(t, testlog.Logger(t, log.LevelDebug))
}

func setupRelayerWithLogger(t *testing.T, logger log.Logger) (*Relayer, *Messenger, *mockReceiver, *relayMetrics) {
	m := newMessenger(t, store.NewMemory())
	recv := &mockReceiver{m: m}
	metrics := &relayMetrics{}
	r := NewRelayer(logger, metrics, 3, time.Hour)
	r.AddMessenger(m)
	msg := flushMsg(0)
	r.Register(Endpoint{Domain: msg.Target, Address: msg.Receiver}, recv)
	return r, m, recv, metrics
}

func TestRelayerDelivers(t *testing.T) {
	ctx := context.Background()
	r, m, recv, metrics := setupRelayer(t)
	msg := flushMsg(100)
	_, err := m.Send(ctx, msg)
	require.NoError(t, err)

	recv.On("ReceiveMessage", KindFinalizeFlush).Return(nil).Once()
	n, err := r.RelayAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 1, metrics.relayed)

	// delivered messages are not relayed again
	n, err = r.RelayAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	recv.AssertExpectations(t)
}

func TestRelayerRetriesRecoverable(t *testing.T) {
	ctx := context.Background()
	r, m, recv, metrics := setupRelayer(t)
	_, err := m.Send(ctx, flushMsg(100))
	require.NoError(t, err)

	recv.On("ReceiveMessage", KindFinalizeFlush).Return(fmt.Errorf("wait: %w", types.ErrBelowThreshold)).Once()
	recv.On("ReceiveMessage", KindFinalizeFlush).Return(nil).Once()

	n, err := r.RelayAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.Equal(t, 1, metrics.retried)

	n, err = r.RelayAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	env, err := m.Envelope(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, EnvelopeDelivered, env.Status)
	require.Equal(t, uint64(2), env.Attempts)
	recv.AssertExpectations(t)
}

func TestRelayerDropsPermanent(t *testing.T) {
	ctx := context.Background()
	logger, logs := testlog.CaptureLogger(t, log.LevelInfo)
	r, m, recv, metrics := setupRelayerWithLogger(t, logger)
	msg := flushMsg(100)
	_, err := m.Send(ctx, msg)
	require.NoError(t, err)

	recv.On("ReceiveMessage", KindFinalizeFlush).Return(types.ErrReplayedGUID).Once()
	_, err = r.RelayAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, metrics.dropped)
	dropped := logs.FindLog(testlog.NewLevelFilter(log.LevelError), testlog.NewMessageFilter("Dropped message"),
		testlog.NewAttributesFilter("kind", KindFinalizeFlush.String()))
	require.NotNil(t, dropped)
	require.Equal(t, uint64(1), dropped.AttrValue("attempts"))

	env, err := m.Envelope(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, EnvelopeDropped, env.Status)
	require.Contains(t, env.LastErr, "replayed guid")
	// the failed consumption left the copy pending
	require.Equal(t, uint64(1), m.Pending(msg.Hash()))
	recv.AssertExpectations(t)
}

func TestRelayerGivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	r, m, recv, metrics := setupRelayer(t)
	_, err := m.Send(ctx, flushMsg(100))
	require.NoError(t, err)

	recv.On("ReceiveMessage", KindFinalizeFlush).Return(types.ErrBelowThreshold).Times(3)
	for i := 0; i < 4; i++ {
		_, err = r.RelayAll(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 2, metrics.retried)
	require.Equal(t, 1, metrics.dropped)
	recv.AssertExpectations(t)
}
