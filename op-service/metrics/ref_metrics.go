package metrics

import (
	"encoding/binary"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// RefMetricer records event log references per domain, e.g. the head of a
// gateway log or the height an oracle has scanned up to.
type RefMetricer interface {
	RecordRef(domain string, name string, height uint64, ref common.Hash)
}

// RefMetrics is a metrics module supposed to be embedded into a service
// metrics type, created after the namespace and factory are set up.
type RefMetrics struct {
	RefsHeight *prometheus.GaugeVec
	RefsHash   *prometheus.GaugeVec
	RefsSeen   *prometheus.CounterVec

	// last ref seen per label pair, so a repeated update of the same data is not counted twice
	lastSeen map[[2]string]common.Hash
	mu       *sync.Mutex // by pointer reference, since RefMetrics is copied
}

var _ RefMetricer = (*RefMetrics)(nil)

// MakeRefMetrics returns a new RefMetrics. ns is the fully qualified namespace, e.g. "op_teleport".
func MakeRefMetrics(ns string, factory Factory) RefMetrics {
	labels := []string{"domain", "type"}
	return RefMetrics{
		RefsHeight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "refs_height",
			Help:      "Gauge representing the event log heights per domain",
		}, labels),
		RefsHash: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "refs_hash",
			Help:      "Gauge representing the event log reference hashes truncated to float values",
		}, labels),
		RefsSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "refs_seen_total",
			Help:      "Count of distinct event log references observed",
		}, labels),
		lastSeen: make(map[[2]string]common.Hash),
		mu:       new(sync.Mutex),
	}
}

func (m *RefMetrics) RecordRef(domain string, name string, height uint64, ref common.Hash) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefsHeight.WithLabelValues(domain, name).Set(float64(height))
	key := [2]string{domain, name}
	if m.lastSeen[key] != ref {
		m.lastSeen[key] = ref
		m.RefsSeen.WithLabelValues(domain, name).Inc()
	}
	// the first 8 bytes mapped to a float64, to graph changes of the reference visually.
	m.RefsHash.WithLabelValues(domain, name).Set(float64(binary.LittleEndian.Uint64(ref[:])))
}

// NoopRefMetrics can be embedded in a noop version of a metric implementation.
type NoopRefMetrics struct{}

func (*NoopRefMetrics) RecordRef(string, string, uint64, common.Hash) {}
