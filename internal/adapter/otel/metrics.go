package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "argus"

// Metrics holds all ARGUS metric instruments.
type Metrics struct {
	OrchestrationsStarted metric.Int64Counter
	OrchestrationsEnded   metric.Int64Counter // attribute status
	PhaseDuration         metric.Float64Histogram
	GatewayCalls          metric.Int64Counter // attributes provider, outcome
	GatewayRetries        metric.Int64Counter
	GatewayFailovers      metric.Int64Counter
	CallLatency           metric.Float64Histogram
	CacheHits             metric.Int64Counter
	CacheMisses           metric.Int64Counter
	CacheBackendErrors    metric.Int64Counter
	BreakerRejections     metric.Int64Counter
	BreakerTransitions    metric.Int64Counter // attributes provider, to
	EventsDropped         metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.OrchestrationsStarted, "argus.orchestrations.started", "Number of orchestrations started"},
		{&m.OrchestrationsEnded, "argus.orchestrations.ended", "Number of orchestrations that reached a terminal status"},
		{&m.GatewayCalls, "argus.gateway.calls", "Number of provider calls by outcome"},
		{&m.GatewayRetries, "argus.gateway.retries", "Number of provider call retries"},
		{&m.GatewayFailovers, "argus.gateway.failovers", "Number of calls served by an alternate agent"},
		{&m.CacheHits, "argus.cache.hits", "Number of response cache hits"},
		{&m.CacheMisses, "argus.cache.misses", "Number of response cache misses"},
		{&m.CacheBackendErrors, "argus.cache.backend_errors", "Number of shared cache backend failures"},
		{&m.BreakerRejections, "argus.breaker.rejections", "Number of calls rejected by an open circuit"},
		{&m.BreakerTransitions, "argus.breaker.transitions", "Number of circuit breaker state changes"},
		{&m.EventsDropped, "argus.events.dropped", "Number of events dropped on a full queue"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return nil, err
		}
	}

	m.PhaseDuration, err = meter.Float64Histogram("argus.phase.duration_seconds",
		metric.WithDescription("Phase duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.CallLatency, err = meter.Float64Histogram("argus.gateway.latency_seconds",
		metric.WithDescription("Provider call latency in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
