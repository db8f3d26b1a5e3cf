package gateway

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/mantlenetworkio/teleport/op-service/locks"
	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

type EventKind string

const (
	EventTeleportInitialized EventKind = "TeleportInitialized"
	EventFlushed             EventKind = "Flushed"
	EventClosed              EventKind = "Closed"
	EventFile                EventKind = "File"
)

// Event is an entry of a gateway event log.
// Height starts at 1; Ref identifies the initiating action, like a transaction hash.
type Event struct {
	Height    uint64      `json:"height"`
	Ref       common.Hash `json:"ref"`
	Kind      EventKind   `json:"kind"`
	Timestamp uint64      `json:"timestamp"`

	GUID         *types.TeleportGUID `json:"guid,omitempty"`
	TargetDomain types.Domain        `json:"targetDomain"`
	Amount       *uint256.Int        `json:"amount,omitempty"`
	What         string              `json:"what,omitempty"`
	Data         uint64              `json:"data,omitempty"`
}

// EventLog is the append-only, ordered log of events emitted by one gateway.
type EventLog struct {
	domain types.Domain
	table  *store.Table
	m      opmetrics.RefMetricer

	mu     sync.RWMutex
	events []Event
	byRef  map[common.Hash]int

	head locks.Watch[uint64]
}

// LoadEventLog restores the event log from the table.
func LoadEventLog(ctx context.Context, domain types.Domain, table *store.Table, m opmetrics.RefMetricer) (*EventLog, error) {
	l := &EventLog{
		domain: domain,
		table:  table,
		m:      m,
		byRef:  make(map[common.Hash]int),
	}
	entries, err := table.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to load event log: %w", err)
	}
	for _, e := range entries {
		var ev Event
		if err := table.GetJSON(ctx, e.Key, &ev); err != nil {
			return nil, fmt.Errorf("failed to decode event %s: %w", e.Key, err)
		}
		l.byRef[ev.Ref] = len(l.events)
		l.events = append(l.events, ev)
	}
	l.head.Set(uint64(len(l.events)))
	return l, nil
}

func (l *EventLog) Domain() types.Domain {
	return l.domain
}

func eventKey(height uint64) string {
	return fmt.Sprintf("%020d", height)
}

func (l *EventLog) eventRef(ev *Event) common.Hash {
	var buf []byte
	buf = append(buf, l.domain[:]...)
	buf = binary.BigEndian.AppendUint64(buf, ev.Height)
	buf = append(buf, ev.Kind...)
	buf = binary.BigEndian.AppendUint64(buf, ev.Timestamp)
	if ev.GUID != nil {
		h := ev.GUID.Hash()
		buf = append(buf, h[:]...)
	}
	buf = append(buf, ev.TargetDomain[:]...)
	if ev.Amount != nil {
		amount := ev.Amount.Bytes32()
		buf = append(buf, amount[:]...)
	}
	buf = append(buf, ev.What...)
	buf = binary.BigEndian.AppendUint64(buf, ev.Data)
	return crypto.Keccak256Hash(buf)
}

// Append assigns the next height and reference to the event and persists it.
func (l *EventLog) Append(ctx context.Context, ev Event) (Event, error) {
	l.mu.Lock()
	ev.Height = uint64(len(l.events)) + 1
	ev.Ref = l.eventRef(&ev)
	if err := l.table.PutJSON(ctx, eventKey(ev.Height), &ev); err != nil {
		l.mu.Unlock()
		return Event{}, fmt.Errorf("failed to persist %s event: %w", ev.Kind, err)
	}
	l.byRef[ev.Ref] = len(l.events)
	l.events = append(l.events, ev)
	l.head.Set(ev.Height)
	l.mu.Unlock()

	l.m.RecordRef(l.domain.Name(), "events", ev.Height, ev.Ref)
	return ev, nil
}

// Head is the height of the last event, 0 if the log is empty.
func (l *EventLog) Head() uint64 {
	return l.head.Get()
}

// Range returns the events with heights in [from, to].
func (l *EventLog) Range(from, to uint64) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	if to > uint64(len(l.events)) {
		to = uint64(len(l.events))
	}
	if from > to {
		return nil
	}
	return append([]Event(nil), l.events[from-1:to]...)
}

func (l *EventLog) ByRef(ref common.Hash) (Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	i, ok := l.byRef[ref]
	if !ok {
		return Event{}, false
	}
	return l.events[i], true
}

// WaitHeight blocks until the log reaches the given height.
func (l *EventLog) WaitHeight(ctx context.Context, height uint64) (uint64, error) {
	return l.head.Catch(ctx, func(h uint64) bool {
		return h >= height
	})
}
