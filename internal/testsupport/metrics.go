package testsupport

import (
	"slices"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// GetMetricValue reads a metric from the default registry. Counters and
// gauges return their value, histograms their sample count. A series that was
// never touched reads as zero.
func GetMetricValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err, "gather metrics")

	i, found := slices.BinarySearchFunc(families, name, func(mf *dto.MetricFamily, target string) int {
		return strings.Compare(mf.GetName(), target)
	})
	if !found {
		return 0
	}

	for _, m := range families[i].GetMetric() {
		if !hasLabels(m, labels) {
			continue
		}
		switch {
		case m.GetCounter() != nil:
			return m.GetCounter().GetValue()
		case m.GetGauge() != nil:
			return m.GetGauge().GetValue()
		case m.GetHistogram() != nil:
			return float64(m.GetHistogram().GetSampleCount())
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, lp := range m.GetLabel() {
		if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

// AssertMetricDelta runs fn and checks that the series moved by exactly delta.
func AssertMetricDelta(t *testing.T, name string, labels map[string]string, delta float64, fn func()) {
	t.Helper()

	before := GetMetricValue(t, name, labels)
	fn()
	assert.Equal(t, delta, GetMetricValue(t, name, labels)-before, "metric %s%v delta", name, labels)
}

// AssertHistogramRecorded checks that the histogram has at least one sample.
func AssertHistogramRecorded(t *testing.T, name string, labels map[string]string) {
	t.Helper()
	assert.Positive(t, GetMetricValue(t, name, labels), "histogram %s%v has no samples", name, labels)
}
