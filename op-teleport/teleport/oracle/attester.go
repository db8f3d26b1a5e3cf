package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-service/safemath"
	"github.com/mantlenetworkio/teleport/op-service/tasks"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/gateway"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/store"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

const scannedKey = "scanned"

type Metrics interface {
	RecordAttestation(signer common.Address)
	opmetrics.RefMetricer
}

// EventSource is the event log of a source gateway.
type EventSource interface {
	Domain() types.Domain
	Head() uint64
	Range(from, to uint64) []gateway.Event
}

// Attester signs every teleport initiation of one event log, once it is confirmations deep.
type Attester struct {
	log           log.Logger
	m             Metrics
	signer        *Signer
	events        EventSource
	confirmations uint64

	mu           sync.Mutex
	state        *store.Table
	attestations *store.Table
	scanned      uint64
}

func NewAttester(ctx context.Context, logger log.Logger, m Metrics, signer *Signer, events EventSource,
	confirmations uint64, st *store.Store) (*Attester, error) {
	table := st.Table("oracle").Sub(events.Domain().Name()).Sub(signer.Address().Hex())
	scanned, err := table.GetUint64(ctx, scannedKey)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load scanned height: %w", err)
	}
	return &Attester{
		log:           logger.New("oracle", signer.Address(), "domain", events.Domain()),
		m:             m,
		signer:        signer,
		events:        events,
		confirmations: confirmations,
		state:         table,
		attestations:  table.Sub("attestations"),
		scanned:       scanned,
	}, nil
}

func (a *Attester) Signer() common.Address {
	return a.signer.Address()
}

// Scanned is the height of the last event examined.
func (a *Attester) Scanned() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scanned
}

// Scan attests to the confirmed events not seen yet, and returns how many attestations it made.
func (a *Attester) Scan(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	safe := safemath.SaturatingSub(a.events.Head(), a.confirmations)
	if safe <= a.scanned {
		return 0, nil
	}
	count := 0
	for _, ev := range a.events.Range(a.scanned+1, safe) {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if ev.Kind == gateway.EventTeleportInitialized && ev.GUID != nil {
			att, err := a.signer.Attest(ev.GUID, ev.Ref)
			if err != nil {
				// an event that can not be signed will never be signable, skip it
				a.log.Error("Failed to attest teleport", "ref", ev.Ref, "err", err)
			} else {
				if err := a.attestations.PutJSON(ctx, ev.Ref.Hex(), &att); err != nil {
					return count, fmt.Errorf("failed to store attestation %s: %w", ev.Ref, err)
				}
				count++
				a.m.RecordAttestation(a.signer.Address())
				a.log.Info("Attested teleport", "ref", ev.Ref, "guid", ev.GUID.Hash(), "nonce", ev.GUID.Nonce)
			}
		}
		if err := a.state.PutUint64(ctx, scannedKey, ev.Height); err != nil {
			return count, fmt.Errorf("failed to persist scanned height: %w", err)
		}
		a.scanned = ev.Height
		a.m.RecordRef(a.events.Domain().Name(), "attested", ev.Height, ev.Ref)
	}
	return count, nil
}

// Attestation returns the attestation for the initiation event with the given reference.
func (a *Attester) Attestation(ctx context.Context, ref common.Hash) (Attestation, bool, error) {
	var att Attestation
	err := a.attestations.GetJSON(ctx, ref.Hex(), &att)
	if errors.Is(err, store.ErrNotFound) {
		return att, false, nil
	}
	if err != nil {
		return att, false, err
	}
	return att, true, nil
}

// AttesterSet runs independent attesters side by side.
type AttesterSet struct {
	log       log.Logger
	attesters []*Attester
	poller    *tasks.Poller
}

func NewAttesterSet(logger log.Logger, interval time.Duration, attesters ...*Attester) *AttesterSet {
	s := &AttesterSet{log: logger, attesters: attesters}
	s.poller = tasks.NewPoller(func(ctx context.Context) {
		if _, err := s.ScanAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Warn("Failed to scan events", "err", err)
		}
	}, interval)
	return s
}

func (s *AttesterSet) Start() {
	s.poller.Start()
}

func (s *AttesterSet) Stop() {
	s.poller.Stop()
}

func (s *AttesterSet) Attesters() []*Attester {
	return s.attesters
}

// ScanAll scans with every attester concurrently, and returns the total of attestations made.
func (s *AttesterSet) ScanAll(ctx context.Context) (int, error) {
	counts := make([]int, len(s.attesters))
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range s.attesters {
		g.Go(func() error {
			n, err := a.Scan(gctx)
			counts[i] = n
			return err
		})
	}
	err := g.Wait()
	total := 0
	for _, n := range counts {
		total += n
	}
	return total, err
}

// Attestations collects the attestations of every attester for the event reference.
func (s *AttesterSet) Attestations(ctx context.Context, ref common.Hash) ([]Attestation, error) {
	out := make([]Attestation, 0, len(s.attesters))
	for _, a := range s.attesters {
		att, ok, err := a.Attestation(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, att)
		}
	}
	return out, nil
}
