package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wacampaign"

// Metrics contains all the Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Rate limiter
	SendRate        *prometheus.GaugeVec
	RateAdjustments *prometheus.CounterVec
	ThrottleSignals *prometheus.CounterVec

	// Dispatch
	MessagesTotal *prometheus.CounterVec
	SafetyDenials *prometheus.CounterVec
	SendDuration  *prometheus.HistogramVec
	ActiveStreams prometheus.Gauge
	PassesStopped *prometheus.CounterVec

	// Campaigns
	CampaignTransitions *prometheus.CounterVec

	// Audit
	AuditDropped prometheus.Counter
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SendRate: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "current_rate",
			Help: "Current per-tenant send rate in messages per minute.",
		}, []string{"tenant"}),
		RateAdjustments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "adjustments_total",
			Help: "Rate changes by direction (up, down, reset).",
		}, []string{"tenant", "direction"}),
		ThrottleSignals: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ratelimit", Name: "throttle_signals_total",
			Help: "Throttling-classified transport failures.",
		}, []string{"tenant"}),
		MessagesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "messages_total",
			Help: "Dispatch attempts by outcome (sent, failed).",
		}, []string{"outcome"}),
		SafetyDenials: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "safety", Name: "denials_total",
			Help: "Safety gate denials by reason.",
		}, []string{"reason"}),
		SendDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "send_duration_seconds",
			Help:    "Transport send latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		ActiveStreams: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "active_streams",
			Help: "Tenant dispatch streams currently running.",
		}),
		PassesStopped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "dispatch", Name: "passes_stopped_total",
			Help: "Campaign passes that stopped before draining, by error kind.",
		}, []string{"kind"}),
		CampaignTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "campaign", Name: "transitions_total",
			Help: "Campaign status transitions by target status.",
		}, []string{"to"}),
		AuditDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "audit", Name: "dropped_total",
			Help: "Audit entries dropped because the buffer was full.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRate(tenant string, rate int) {
	if m == nil {
		return
	}
	m.SendRate.WithLabelValues(tenant).Set(float64(rate))
}

func (m *Metrics) RateAdjusted(tenant, direction string) {
	if m == nil {
		return
	}
	m.RateAdjustments.WithLabelValues(tenant, direction).Inc()
}

func (m *Metrics) Throttled(tenant string) {
	if m == nil {
		return
	}
	m.ThrottleSignals.WithLabelValues(tenant).Inc()
}

func (m *Metrics) MessageOutcome(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(outcome).Inc()
	m.SendDuration.WithLabelValues(outcome).Observe(seconds)
}

func (m *Metrics) SafetyDenied(reason string) {
	if m == nil {
		return
	}
	m.SafetyDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) StreamStarted() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
}

func (m *Metrics) StreamStopped() {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
}

func (m *Metrics) PassStopped(kind string) {
	if m == nil {
		return
	}
	m.PassesStopped.WithLabelValues(kind).Inc()
}

func (m *Metrics) CampaignTransition(to string) {
	if m == nil {
		return
	}
	m.CampaignTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) AuditDrop() {
	if m == nil {
		return
	}
	m.AuditDropped.Inc()
}
