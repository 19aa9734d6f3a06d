package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome-метки.
const (
	OutcomeOK      = "ok"
	OutcomeFailed  = "failed"
	OutcomeSkipped = "skipped"
)

// Metrics собирает метрики ретранслятора и контроля допуска.
// Все методы безопасны для nil-приемника.
type Metrics struct {
	registry  *prometheus.Registry
	fanout    *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	decisions *prometheus.CounterVec
}

// New создает набор метрик в собственном реестре.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fanout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lounge",
			Name:      "relay_fanout_total",
			Help:      "Per-recipient relay operations by outcome.",
		}, []string{"operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lounge",
			Name:      "relay_fanout_duration_seconds",
			Help:      "Duration of a complete fan-out.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lounge",
			Name:      "admission_decisions_total",
			Help:      "Moderator admission decisions by outcome.",
		}, []string{"decision", "outcome"}),
	}
	m.registry.MustRegister(
		m.fanout,
		m.duration,
		m.decisions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Delivery учитывает результат одной доставки.
func (m *Metrics) Delivery(operation, outcome string) {
	if m == nil {
		return
	}
	m.fanout.WithLabelValues(operation, outcome).Inc()
}

// ObserveFanout фиксирует длительность рассылки, начатой в started.
func (m *Metrics) ObserveFanout(operation string, started time.Time) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
}

// Decision учитывает решение модератора.
func (m *Metrics) Decision(decision, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, outcome).Inc()
}

// Handler отдает метрики в формате Prometheus.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
