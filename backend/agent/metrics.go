package agent

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

type orchestratorMetricsProvider struct {
	turns          *prometheus.CounterVec
	fallbacks      *prometheus.CounterVec
	toolExecutions *prometheus.CounterVec
	roundTrips     prometheus.Histogram
}

func newOrchestratorMetricsProvider(registry *prometheus.Registry) *orchestratorMetricsProvider {
	if registry == nil {
		return nil
	}

	return &orchestratorMetricsProvider{
		turns: register(registry, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_turns_total",
				Help: "Total number of chat turns by outcome",
			},
			[]string{"outcome"},
		)),
		fallbacks: register(registry, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_fallbacks_total",
				Help: "Total number of switches to the fallback model by model type and error kind",
			},
			[]string{"type", "kind"},
		)),
		toolExecutions: register(registry, prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_tool_executions_total",
				Help: "Total number of tool executions by tool and status",
			},
			[]string{"tool", "status"},
		)),
		roundTrips: register(registry, prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_tool_round_trips",
				Help:    "Number of tool round trips per completed turn",
				Buckets: []float64{0, 1, 2, 3, 4, 6, 8},
			},
		)),
	}
}

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

func (p *orchestratorMetricsProvider) IncrementTurns(outcome string) {
	if p != nil && p.turns != nil {
		p.turns.WithLabelValues(outcome).Inc()
	}
}

func (p *orchestratorMetricsProvider) IncrementFallbacks(modelType, kind string) {
	if p != nil && p.fallbacks != nil {
		p.fallbacks.WithLabelValues(modelType, kind).Inc()
	}
}

func (p *orchestratorMetricsProvider) IncrementToolExecutions(tool string, success bool) {
	if p != nil && p.toolExecutions != nil {
		status := "success"
		if !success {
			status = "failure"
		}
		p.toolExecutions.WithLabelValues(tool, status).Inc()
	}
}

func (p *orchestratorMetricsProvider) ObserveRoundTrips(n int) {
	if p != nil && p.roundTrips != nil {
		p.roundTrips.Observe(float64(n))
	}
}
