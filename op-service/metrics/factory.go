package metrics

import (
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Factory creates metrics and registers them on the registry it was made for.
type Factory interface {
	NewCounter(opts prometheus.CounterOpts) prometheus.Counter
	NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec
	NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge
	NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec
	NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram
	NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec
	Document() []DocumentedMetric
}

// DocumentedMetric describes a metric created through a Factory.
type DocumentedMetric struct {
	Type   string   `json:"type"`
	Name   string   `json:"name"`
	Help   string   `json:"help"`
	Labels []string `json:"labels"`
}

type documentor struct {
	metrics []DocumentedMetric
	factory *registeringFactory
}

type registeringFactory struct {
	registry *prometheus.Registry
}

// With returns a Factory that registers every created metric on the given registry.
func With(registry *prometheus.Registry) Factory {
	return &documentor{
		factory: &registeringFactory{registry: registry},
	}
}

// NewRegistry creates a registry that includes the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	registry.MustRegister(collectors.NewGoCollector())
	return registry
}

func fullName(ns, subsystem, name string) string {
	return prometheus.BuildFQName(ns, subsystem, name)
}

func (d *documentor) NewCounter(opts prometheus.CounterOpts) prometheus.Counter {
	d.record("counter", fullName(opts.Namespace, opts.Subsystem, opts.Name), opts.Help, nil)
	c := prometheus.NewCounter(opts)
	d.factory.registry.MustRegister(c)
	return c
}

func (d *documentor) NewCounterVec(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
	d.record("counter", fullName(opts.Namespace, opts.Subsystem, opts.Name), opts.Help, labelNames)
	c := prometheus.NewCounterVec(opts, labelNames)
	d.factory.registry.MustRegister(c)
	return c
}

func (d *documentor) NewGauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	d.record("gauge", fullName(opts.Namespace, opts.Subsystem, opts.Name), opts.Help, nil)
	g := prometheus.NewGauge(opts)
	d.factory.registry.MustRegister(g)
	return g
}

func (d *documentor) NewGaugeVec(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
	d.record("gauge", fullName(opts.Namespace, opts.Subsystem, opts.Name), opts.Help, labelNames)
	g := prometheus.NewGaugeVec(opts, labelNames)
	d.factory.registry.MustRegister(g)
	return g
}

func (d *documentor) NewHistogram(opts prometheus.HistogramOpts) prometheus.Histogram {
	d.record("histogram", fullName(opts.Namespace, opts.Subsystem, opts.Name), opts.Help, nil)
	h := prometheus.NewHistogram(opts)
	d.factory.registry.MustRegister(h)
	return h
}

func (d *documentor) NewHistogramVec(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
	d.record("histogram", fullName(opts.Namespace, opts.Subsystem, opts.Name), opts.Help, labelNames)
	h := prometheus.NewHistogramVec(opts, labelNames)
	d.factory.registry.MustRegister(h)
	return h
}

func (d *documentor) record(typ, name, help string, labels []string) {
	d.metrics = append(d.metrics, DocumentedMetric{
		Type:   typ,
		Name:   name,
		Help:   help,
		Labels: labels,
	})
}

// Document lists the created metrics, sorted by name.
func (d *documentor) Document() []DocumentedMetric {
	out := make([]DocumentedMetric, len(d.metrics))
	copy(out, d.metrics)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
