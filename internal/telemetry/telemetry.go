// Package telemetry records engine metrics. Engines call a Collector inline
// on every rpc and status change, so implementations must be cheap.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeTransport = "transport"
	OutcomeInvalid   = "invalid"
)

// Collector captures engine events.
type Collector interface {
	ObserveRPC(method, outcome string, d time.Duration)
	IncConnect(outcome string)
	SetStatus(status string)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) ObserveRPC(string, string, time.Duration) {}
func (noopCollector) IncConnect(string)                        {}
func (noopCollector) SetStatus(string)                         {}

// PrometheusCollector exposes engine metrics via Prometheus.
type PrometheusCollector struct {
	rpcDuration *prometheus.HistogramVec
	connects    *prometheus.CounterVec
	status      *prometheus.GaugeVec
}

// NewPrometheusCollector registers the metrics with reg, reusing collectors
// that are already registered under the same names.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rpcDuration, err := register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "surrealembed_rpc_duration_seconds",
		Help:    "Latency of rpc calls executed through an engine adapter.",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"method", "outcome"}))
	if err != nil {
		return nil, err
	}
	connects, err := register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "surrealembed_connect_total",
		Help: "Number of connection attempts per outcome.",
	}, []string{"outcome"}))
	if err != nil {
		return nil, err
	}
	status, err := register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "surrealembed_engine_status",
		Help: "Current engine status; the active status is 1.",
	}, []string{"status"}))
	if err != nil {
		return nil, err
	}
	return &PrometheusCollector{
		rpcDuration: rpcDuration,
		connects:    connects,
		status:      status,
	}, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		var zero T
		return zero, err
	}
	return c, nil
}

// ObserveRPC records the duration of one rpc call.
func (p *PrometheusCollector) ObserveRPC(method, outcome string, d time.Duration) {
	if p == nil || p.rpcDuration == nil {
		return
	}
	p.rpcDuration.WithLabelValues(method, outcome).Observe(d.Seconds())
}

// IncConnect counts a connection attempt.
func (p *PrometheusCollector) IncConnect(outcome string) {
	if p == nil || p.connects == nil {
		return
	}
	p.connects.WithLabelValues(outcome).Inc()
}

// SetStatus marks status as the active one.
func (p *PrometheusCollector) SetStatus(status string) {
	if p == nil || p.status == nil {
		return
	}
	p.status.Reset()
	p.status.WithLabelValues(status).Set(1)
}
