// Package metrics exposes Prometheus instrumentation for the cache,
// retry manager and circuit breakers. All recording helpers are nil-safe
// so callers can run without metrics entirely.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	CacheEvictions     *prometheus.CounterVec
	CacheExpiries      prometheus.Counter
	CacheSize          prometheus.Gauge
	TierFaults         *prometheus.CounterVec
	TierPromotions     *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec
	CircuitTransitions *prometheus.CounterVec
}

// New creates and registers all collectors on the given registerer.
func New(reg prometheus.Registerer, namespace string) *Metrics {
	if namespace == "" {
		namespace = "warden"
	}

	m := &Metrics{
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of cache hits, by storage tier",
			},
			[]string{"tier"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of cache misses",
			},
			[]string{"reason"},
		),
		CacheEvictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_evictions_total",
				Help:      "Total number of evicted entries, by policy",
			},
			[]string{"policy"},
		),
		CacheExpiries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_expiries_total",
				Help:      "Total number of entries removed because their TTL elapsed",
			},
		),
		CacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "cache_entries",
				Help:      "Current number of entries in the primary tier",
			},
		),
		TierFaults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_faults_total",
				Help:      "Total number of storage tier I/O failures degraded to a miss",
			},
			[]string{"tier"},
		),
		TierPromotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tier_promotions_total",
				Help:      "Total number of fallback hits promoted into the primary tier",
			},
			[]string{"tier"},
		),
		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts, by error type and outcome",
			},
			[]string{"error_type", "outcome"},
		),
		CircuitTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "circuit_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"from", "to"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.CacheHits,
			m.CacheMisses,
			m.CacheEvictions,
			m.CacheExpiries,
			m.CacheSize,
			m.TierFaults,
			m.TierPromotions,
			m.RetryAttempts,
			m.CircuitTransitions,
		)
	}

	return m
}

// Hit records a cache hit on the given tier.
func (m *Metrics) Hit(tier string) {
	if m == nil {
		return
	}
	m.CacheHits.WithLabelValues(tier).Inc()
}

// Miss records a cache miss with the given reason.
func (m *Metrics) Miss(reason string) {
	if m == nil {
		return
	}
	m.CacheMisses.WithLabelValues(reason).Inc()
}

// Evicted records n evicted entries under the given policy.
func (m *Metrics) Evicted(policy string, n int) {
	if m == nil {
		return
	}
	m.CacheEvictions.WithLabelValues(policy).Add(float64(n))
}

// Expired records n entries removed because their TTL elapsed.
func (m *Metrics) Expired(n int) {
	if m == nil {
		return
	}
	m.CacheExpiries.Add(float64(n))
}

// SetSize records the current primary tier entry count.
func (m *Metrics) SetSize(n int) {
	if m == nil {
		return
	}
	m.CacheSize.Set(float64(n))
}

// TierFault records a degraded storage tier operation.
func (m *Metrics) TierFault(tier string) {
	if m == nil {
		return
	}
	m.TierFaults.WithLabelValues(tier).Inc()
}

// Promoted records a fallback hit promoted into the primary tier.
func (m *Metrics) Promoted(tier string) {
	if m == nil {
		return
	}
	m.TierPromotions.WithLabelValues(tier).Inc()
}

// Attempt records a retry attempt outcome for an error type.
func (m *Metrics) Attempt(errorType, outcome string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(errorType, outcome).Inc()
}

// Transition records a circuit breaker state transition.
func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.CircuitTransitions.WithLabelValues(from, to).Inc()
}
