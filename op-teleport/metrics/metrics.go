package metrics

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	opmetrics "github.com/mantlenetworkio/teleport/op-service/metrics"
	"github.com/mantlenetworkio/teleport/op-teleport/teleport/types"
)

const Namespace = "op_teleport"

type Metrics struct {
	ns       string
	registry *prometheus.Registry
	factory  opmetrics.Factory

	opmetrics.RefMetrics
	opmetrics.HTTPMetrics

	teleportsInitiated *prometheus.CounterVec
	teleportedAmount   *prometheus.CounterVec
	flushes            *prometheus.CounterVec
	flushedAmount      *prometheus.CounterVec

	mints        *prometheus.CounterVec
	mintedAmount *prometheus.CounterVec
	feesAmount   *prometheus.CounterVec
	settledTotal *prometheus.CounterVec

	signatureChecks *prometheus.CounterVec
	attestations    *prometheus.CounterVec

	relayed     *prometheus.CounterVec
	relayFailed *prometheus.CounterVec

	info prometheus.GaugeVec
	up   prometheus.Gauge
}

var _ Metricer = (*Metrics)(nil)

func NewMetrics(procName string) *Metrics {
	return newMetrics(procName, opmetrics.NewRegistry())
}

func newMetrics(procName string, registry *prometheus.Registry) *Metrics {
	if procName == "" {
		procName = "default"
	}
	ns := Namespace + "_" + procName

	factory := opmetrics.With(registry)
	return &Metrics{
		ns:       ns,
		registry: registry,
		factory:  factory,

		info: *factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "info",
			Help:      "Pseudo-metric tracking version and config info",
		}, []string{
			"version",
		}),
		up: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "up",
			Help:      "1 if op-teleport has finished starting up",
		}),

		RefMetrics:  opmetrics.MakeRefMetrics(ns, factory),
		HTTPMetrics: opmetrics.MakeHTTPMetrics(ns, factory),

		teleportsInitiated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "teleports_initiated_total",
			Help:      "Count of teleports initiated, per target domain",
		}, []string{"target"}),
		teleportedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "teleported_amount_total",
			Help:      "Total amount burned by initiated teleports, per target domain",
		}, []string{"target"}),
		flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "flushes_total",
			Help:      "Count of flushes sent for settlement, per target domain",
		}, []string{"target"}),
		flushedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "flushed_amount_total",
			Help:      "Total batched debt flushed, per target domain",
		}, []string{"target"}),

		mints: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "mints_total",
			Help:      "Count of teleport mints, per source domain",
		}, []string{"source"}),
		mintedAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "minted_amount_total",
			Help:      "Total amount minted for teleports, fees included, per source domain",
		}, []string{"source"}),
		feesAmount: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "fees_amount_total",
			Help:      "Total fees charged on minting, per source domain",
		}, []string{"source"}),
		settledTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "settled_amount_total",
			Help:      "Total amount settled against debt, per source domain",
		}, []string{"source"}),

		signatureChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "signature_checks_total",
			Help:      "Count of oracle signature bundle checks, by result",
		}, []string{"result"}),
		attestations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "attestations_total",
			Help:      "Count of teleports attested, per oracle signer",
		}, []string{"signer"}),

		relayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_relayed_total",
			Help:      "Count of cross-domain messages delivered, per message kind",
		}, []string{"kind"}),
		relayFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "messages_failed_total",
			Help:      "Count of failed cross-domain message deliveries, per message kind",
		}, []string{"kind", "permanent"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Document() []opmetrics.DocumentedMetric {
	return m.factory.Document()
}

// RecordInfo sets a pseudo-metric that contains versioning and config info.
func (m *Metrics) RecordInfo(version string) {
	m.info.WithLabelValues(version).Set(1)
}

// RecordUp sets the up metric to 1.
func (m *Metrics) RecordUp() {
	m.up.Set(1)
}

func (m *Metrics) RecordTeleportInitiated(target types.Domain, amount *uint256.Int) {
	m.teleportsInitiated.WithLabelValues(target.String()).Inc()
	m.teleportedAmount.WithLabelValues(target.String()).Add(toFloat(amount))
}

func (m *Metrics) RecordFlush(target types.Domain, amount *uint256.Int) {
	m.flushes.WithLabelValues(target.String()).Inc()
	m.flushedAmount.WithLabelValues(target.String()).Add(toFloat(amount))
}

func (m *Metrics) RecordMint(source types.Domain, amount, fee *uint256.Int) {
	m.mints.WithLabelValues(source.String()).Inc()
	m.mintedAmount.WithLabelValues(source.String()).Add(toFloat(amount))
	m.feesAmount.WithLabelValues(source.String()).Add(toFloat(fee))
}

func (m *Metrics) RecordSettle(source types.Domain, amount *uint256.Int) {
	m.settledTotal.WithLabelValues(source.String()).Add(toFloat(amount))
}

func (m *Metrics) RecordSignatureCheck(err error) {
	m.signatureChecks.WithLabelValues(signatureResult(err)).Inc()
}

func (m *Metrics) RecordAttestation(signer common.Address) {
	m.attestations.WithLabelValues(signer.Hex()).Inc()
}

func (m *Metrics) RecordRelayed(kind string) {
	m.relayed.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordRelayFailed(kind string, permanent bool) {
	label := "false"
	if permanent {
		label = "true"
	}
	m.relayFailed.WithLabelValues(kind, label).Inc()
}

func signatureResult(err error) string {
	switch {
	case err == nil:
		return "valid"
	case errors.Is(err, types.ErrBelowThreshold):
		return "below_threshold"
	case errors.Is(err, types.ErrUnknownSigner):
		return "unknown_signer"
	case errors.Is(err, types.ErrDuplicateOrUnorderedSigner):
		return "unordered"
	default:
		return "invalid"
	}
}

// toFloat converts token amounts, which may exceed 64 bits, for use as metric values.
func toFloat(amount *uint256.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount.ToBig()).Float64()
	return f
}
