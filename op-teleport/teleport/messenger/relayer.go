package messenger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/teleport/op-service/tasks"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Receiver handles messages addressed to it on the target domain.
// Implementations consume the message through the Messenger that carried it.
type Receiver interface {
	ReceiveMessage(ctx context.Context, msg Message) error
}

type Endpoint struct {
	Domain  types.Domain
	Address common.Address
}

type RelayMetrics interface {
	RecordRelayed(kind string)
	RecordRelayFailed(kind string, permanent bool)
}

// Relayer delivers outbox messages to their receivers.
// Recoverable failures are retried up to MaxAttempts times; other failures drop the message.
type Relayer struct {
	log         log.Logger
	m           RelayMetrics
	maxAttempts uint64

	mu         sync.Mutex
	messengers []*Messenger
	receivers  map[Endpoint]Receiver

	poller *tasks.Poller
}

func NewRelayer(logger log.Logger, m RelayMetrics, maxAttempts uint64, interval time.Duration) *Relayer {
	r := &Relayer{
		log:         logger,
		m:           m,
		maxAttempts: maxAttempts,
		receivers:   make(map[Endpoint]Receiver),
	}
	r.poller = tasks.NewPoller(func(ctx context.Context) {
		if _, err := r.RelayAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.log.Warn("Failed to relay messages", "err", err)
		}
	}, interval)
	return r
}

func (r *Relayer) AddMessenger(m *Messenger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messengers = append(r.messengers, m)
}

func (r *Relayer) Register(ep Endpoint, recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[ep] = recv
}

func (r *Relayer) Start() {
	r.poller.Start()
}

func (r *Relayer) Stop() {
	r.poller.Stop()
}

// RelayAll makes one delivery attempt for every undelivered message, and returns the number delivered.
func (r *Relayer) RelayAll(ctx context.Context) (int, error) {
	r.mu.Lock()
	messengers := append([]*Messenger(nil), r.messengers...)
	r.mu.Unlock()

	delivered := 0
	for _, m := range messengers {
		n, err := r.relay(ctx, m)
		delivered += n
		if err != nil {
			return delivered, err
		}
	}
	return delivered, nil
}

func (r *Relayer) relay(ctx context.Context, m *Messenger) (int, error) {
	envs, err := m.Undelivered(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox of %s->%s: %w", m.Source(), m.Target(), err)
	}
	delivered := 0
	for _, env := range envs {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}
		msg := env.Message
		r.mu.Lock()
		recv, ok := r.receivers[Endpoint{Domain: msg.Target, Address: msg.Receiver}]
		r.mu.Unlock()
		if !ok {
			r.log.Warn("No receiver for message", "seq", env.Seq, "target", msg.Target, "receiver", msg.Receiver)
			continue
		}

		env.Attempts++
		err := recv.ReceiveMessage(ctx, msg)
		switch {
		case err == nil:
			env.Status = EnvelopeDelivered
			env.LastErr = ""
			delivered++
			r.m.RecordRelayed(msg.Kind.String())
			r.log.Info("Relayed message", "seq", env.Seq, "kind", msg.Kind, "target", msg.Target)
		case types.IsRecoverable(err) && env.Attempts < r.maxAttempts:
			env.LastErr = err.Error()
			r.m.RecordRelayFailed(msg.Kind.String(), false)
			r.log.Debug("Message not deliverable yet", "seq", env.Seq, "kind", msg.Kind, "attempts", env.Attempts, "err", err)
		default:
			env.Status = EnvelopeDropped
			env.LastErr = err.Error()
			r.m.RecordRelayFailed(msg.Kind.String(), true)
			r.log.Error("Dropped message", "seq", env.Seq, "kind", msg.Kind, "attempts", env.Attempts, "err", err)
		}
		if err := m.UpdateEnvelope(ctx, env); err != nil {
			return delivered, fmt.Errorf("failed to update envelope %d: %w", env.Seq, err)
		}
	}
	return delivered, nil
}
