// Package messenger delivers messages between the gateways of two domains.
// Delivery is at-least-once; consumption is exactly-once per sent copy, keyed by content hash.
package messenger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

// Message is a call from a sender on the source domain to a receiver on the target domain.
type Message struct {
	Source   types.Domain   `json:"source"`
	Target   types.Domain   `json:"target"`
	Sender   common.Address `json:"sender"`
	Receiver common.Address `json:"receiver"`
	Kind     Kind           `json:"kind"`
	Payload  hexutil.Bytes  `json:"payload"`
}

// Hash identifies the message by content. Identical messages share a hash and are counted.
func (m *Message) Hash() common.Hash {
	buf := make([]byte, 0, 32+32+20+20+1+len(m.Payload))
	buf = append(buf, m.Source[:]...)
	buf = append(buf, m.Target[:]...)
	buf = append(buf, m.Sender[:]...)
	buf = append(buf, m.Receiver[:]...)
	buf = append(buf, byte(m.Kind))
	buf = append(buf, m.Payload...)
	return crypto.Keccak256Hash(buf)
}

type EnvelopeStatus uint8

const (
	EnvelopeSent EnvelopeStatus = iota
	EnvelopeDelivered
	EnvelopeDropped
)

// Envelope is a sent message as kept in the outbox.
type Envelope struct {
	Seq      uint64         `json:"seq"`
	Message  Message        `json:"message"`
	Status   EnvelopeStatus `json:"status"`
	Attempts uint64         `json:"attempts"`
	LastErr  string         `json:"lastErr,omitempty"`
}

// Messenger carries messages in one direction, from Source to Target.
type Messenger struct {
	log    log.Logger
	source types.Domain
	target types.Domain

	outbox  *store.Table
	counts  *store.Table
	mu      sync.Mutex
	nextSeq uint64
	// pending copies per content hash, excluding copies currently being consumed
	pending map[common.Hash]uint64
}

// New loads the messenger state of the given direction from the store.
func New(ctx context.Context, logger log.Logger, st *store.Store, source, target types.Domain) (*Messenger, error) {
	tbl := st.Table("messenger").Sub(source.Name() + "-" + target.Name())
	m := &Messenger{
		log:     logger.New("source", source, "target", target),
		source:  source,
		target:  target,
		outbox:  tbl.Sub("outbox"),
		counts:  tbl.Sub("pending"),
		pending: make(map[common.Hash]uint64),
	}
	entries, err := m.counts.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load pending messages: %w", err)
	}
	for _, e := range entries {
		m.pending[common.HexToHash(e.Key)] = binary.BigEndian.Uint64(e.Value)
	}
	sent, err := m.outbox.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load outbox: %w", err)
	}
	m.nextSeq = uint64(len(sent))
	return m, nil
}

func (m *Messenger) Source() types.Domain { return m.source }
func (m *Messenger) Target() types.Domain { return m.target }

func seqKey(seq uint64) string {
	// fixed width, so keys sort in sequence order
	return fmt.Sprintf("%020d", seq)
}

func countEntry(h common.Hash, n uint64) store.Entry {
	return store.Entry{Key: h.Hex(), Value: binary.BigEndian.AppendUint64(nil, n)}
}

// Send appends the message to the outbox.
func (m *Messenger) Send(ctx context.Context, msg Message) (common.Hash, error) {
	if msg.Source != m.source || msg.Target != m.target {
		return common.Hash{}, fmt.Errorf("%w: messenger %s->%s cannot carry %s->%s",
			types.ErrInvalidMessage, m.source, m.target, msg.Source, msg.Target)
	}
	h := msg.Hash()

	m.mu.Lock()
	defer m.mu.Unlock()
	env := Envelope{Seq: m.nextSeq, Message: msg, Status: EnvelopeSent}
	if err := m.outbox.PutJSON(ctx, seqKey(env.Seq), &env); err != nil {
		return common.Hash{}, fmt.Errorf("failed to write outbox: %w", err)
	}
	n := m.pending[h] + 1
	if err := m.counts.PutAll(ctx, countEntry(h, n)); err != nil {
		return common.Hash{}, fmt.Errorf("failed to count message: %w", err)
	}
	m.pending[h] = n
	m.nextSeq++
	m.log.Debug("Sent message", "seq", env.Seq, "kind", msg.Kind, "hash", h)
	return h, nil
}

// Pending returns how many copies of the message can still be consumed.
func (m *Messenger) Pending(h common.Hash) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending[h]
}

// Consume takes one pending copy of the message and runs fn on it.
// The copy is used up, durably, before fn runs; if fn fails it is put back.
func (m *Messenger) Consume(ctx context.Context, msg Message, fn func() error) error {
	h := msg.Hash()
	m.mu.Lock()
	n := m.pending[h]
	if n == 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", types.ErrUnknownMessage, h)
	}
	if err := m.counts.PutAll(ctx, countEntry(h, n-1)); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to consume message: %w", err)
	}
	// a concurrent consumer cannot take the same copy
	m.pending[h] = n - 1
	m.mu.Unlock()

	err := fn()
	if err == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[h]++
	if perr := m.counts.PutAll(context.WithoutCancel(ctx), countEntry(h, m.pending[h])); perr != nil {
		m.log.Error("Failed to restore message count", "hash", h, "err", perr)
		return errors.Join(err, fmt.Errorf("failed to restore message count: %w", perr))
	}
	return err
}

// Undelivered lists the outbox envelopes that were not delivered or dropped yet, in send order.
func (m *Messenger) Undelivered(ctx context.Context) ([]Envelope, error) {
	entries, err := m.outbox.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var out []Envelope
	for _, e := range entries {
		var env Envelope
		if err := m.outbox.GetJSON(ctx, e.Key, &env); err != nil {
			return nil, fmt.Errorf("failed to decode envelope %s: %w", e.Key, err)
		}
		if env.Status == EnvelopeSent {
			out = append(out, env)
		}
	}
	return out, nil
}

// UpdateEnvelope records the delivery outcome of an envelope.
func (m *Messenger) UpdateEnvelope(ctx context.Context, env Envelope) error {
	key := seqKey(env.Seq)
	if ok, err := m.outbox.Has(ctx, key); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w: envelope %d", types.ErrUnknownMessage, env.Seq)
	}
	return m.outbox.PutJSON(ctx, key, &env)
}

// Envelope returns the outbox entry with the given sequence number.
func (m *Messenger) Envelope(ctx context.Context, seq uint64) (Envelope, error) {
	var env Envelope
	if err := m.outbox.GetJSON(ctx, seqKey(seq), &env); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return env, fmt.Errorf("%w: envelope %d", types.ErrUnknownMessage, seq)
		}
		return env, err
	}
	return env, nil
}
