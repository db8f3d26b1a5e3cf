package metrics

import (
	"encoding/json"

	"github.com/prometheus/client_golang/prometheus"
	gocl "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// MetricFamilyChecker searches the metrics of a single family.
type MetricFamilyChecker struct {
	fam *gocl.MetricFamily
	t   require.TestingT
}

func matchesLabels(m *gocl.Metric, labels map[string]string) bool {
	for k, v := range labels {
		found := false
		for _, lab := range m.GetLabel() {
			if lab.GetName() == k && lab.GetValue() == v {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// FindByLabels finds the one metric that matches the given labels, and fails the test otherwise.
func (f *MetricFamilyChecker) FindByLabels(labels map[string]string) *gocl.Metric {
	var found *gocl.Metric
	for _, m := range f.fam.GetMetric() {
		if matchesLabels(m, labels) {
			require.Nil(f.t, found, "must not match more than one metric with labels %v", labels)
			found = m
		}
	}
	require.NotNil(f.t, found, "cannot find metric with labels %v", labels)
	return found
}

// CounterValue returns the value of the counter that matches the labels.
func (f *MetricFamilyChecker) CounterValue(labels map[string]string) float64 {
	m := f.FindByLabels(labels)
	require.NotNil(f.t, m.GetCounter(), "metric is not a counter")
	return m.GetCounter().GetValue()
}

// GaugeValue returns the value of the gauge that matches the labels.
func (f *MetricFamilyChecker) GaugeValue(labels map[string]string) float64 {
	m := f.FindByLabels(labels)
	require.NotNil(f.t, m.GetGauge(), "metric is not a gauge")
	return m.GetGauge().GetValue()
}

// MetricFamiliesChecker holds a gathered snapshot of a registry.
type MetricFamiliesChecker struct {
	families []*gocl.MetricFamily
	t        require.TestingT
}

// FindByName finds a metric family by its full name, and fails the test if it is missing.
func (m *MetricFamiliesChecker) FindByName(name string) *MetricFamilyChecker {
	for _, f := range m.families {
		if f.GetName() == name {
			return &MetricFamilyChecker{fam: f, t: m.t}
		}
	}
	require.Failf(m.t, "missing metric family", "cannot find metric family %q", name)
	return nil
}

// Dump returns indented json of the snapshot, for debugging.
func (m *MetricFamiliesChecker) Dump() string {
	outStr, _ := json.MarshalIndent(m.families, "  ", "  ")
	return string(outStr)
}

// NewMetricChecker gathers the registry into a snapshot that tests can search.
func NewMetricChecker(t require.TestingT, reg *prometheus.Registry) *MetricFamiliesChecker {
	families, err := reg.Gather()
	require.NoError(t, err, "must gather metrics")
	return &MetricFamiliesChecker{families: families, t: t}
}
