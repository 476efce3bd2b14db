package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestNoopCollector(t *testing.T) {
	collector := Noop()
	require.NotNil(t, collector)
	collector.ObserveRPC("query", OutcomeOK, time.Millisecond)
	collector.IncConnect(OutcomeOK)
	collector.SetStatus("connected")
}

func TestPrometheusCollectorRegistersAndReusesCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.IncConnect(OutcomeOK)

	again, err := NewPrometheusCollector(reg)
	require.NoError(t, err)
	require.Same(t, collector.connects, again.connects)

	again.IncConnect(OutcomeOK)

	mf := gather(t, reg, "surrealembed_connect_total")
	require.Len(t, mf.Metric, 1)
	require.Equal(t, float64(2), mf.Metric[0].Counter.GetValue())
}

func TestPrometheusCollectorSetStatusKeepsOneActive(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.SetStatus("connecting")
	collector.SetStatus("connected")

	mf := gather(t, reg, "surrealembed_engine_status")
	require.Len(t, mf.Metric, 1)
	require.Equal(t, "connected", mf.Metric[0].Label[0].GetValue())
}

func TestPrometheusCollectorObserveRPC(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg)
	require.NoError(t, err)

	collector.ObserveRPC("query", OutcomeOK, 2*time.Millisecond)
	collector.ObserveRPC("query", OutcomeOK, 3*time.Millisecond)

	mf := gather(t, reg, "surrealembed_rpc_duration_seconds")
	require.Len(t, mf.Metric, 1)
	require.Equal(t, uint64(2), mf.Metric[0].Histogram.GetSampleCount())
}

func TestPrometheusCollectorNilSafe(t *testing.T) {
	var p *PrometheusCollector
	p.ObserveRPC("query", OutcomeOK, time.Second)
	p.IncConnect(OutcomeError)
	p.SetStatus("error")
}

func gather(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric %s not gathered", name)
	return nil
}
