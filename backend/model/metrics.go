package model

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type providerMetricsProvider struct {
	calls    *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newProviderMetricsProvider(registry *prometheus.Registry) *providerMetricsProvider {
	if registry == nil {
		return nil
	}

	return &providerMetricsProvider{
		calls: register(registry, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_stream_calls_total",
				Help: "Total number of streaming calls by provider and model",
			},
			[]string{"provider", "model"},
		)),
		failures: register(registry, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "provider_stream_failures_total",
				Help: "Total number of failed streaming calls by provider and error kind",
			},
			[]string{"provider", "kind"},
		)),
		duration: register(registry, prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "provider_stream_duration_seconds",
				Help:    "Duration of streaming calls from request to end of stream",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
			},
			[]string{"provider", "model"},
		)),
	}
}

// register returns the collector already present in the registry when a
// second provider instance registers the same metric.
func register[T prometheus.Collector](registry *prometheus.Registry, collector T) T {
	if err := registry.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func (p *providerMetricsProvider) IncrementCalls(provider, model string) {
	if p != nil && p.calls != nil {
		p.calls.WithLabelValues(provider, model).Inc()
	}
}

func (p *providerMetricsProvider) IncrementFailures(provider string, kind ErrorKind) {
	if p != nil && p.failures != nil {
		p.failures.WithLabelValues(provider, kind.String()).Inc()
	}
}

func (p *providerMetricsProvider) ObserveDuration(provider, model string, start time.Time) {
	if p != nil && p.duration != nil {
		p.duration.WithLabelValues(provider, model).Observe(time.Since(start).Seconds())
	}
}
