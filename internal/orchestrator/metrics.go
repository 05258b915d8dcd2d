package orchestrator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/animus-labs/modelgate/internal/domain"
)

const metricsNamespace = "evalgate"

// Metrics is nil-safe: a nil *Metrics records nothing.
type Metrics struct {
	runs            *prometheus.CounterVec
	attempts        *prometheus.CounterVec
	branchDuration  *prometheus.HistogramVec
	lastScore       *prometheus.GaugeVec
	publishFailures prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Labels: state (approved, rejected, failed)
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "runs",
			Name:      "completed_total",
			Help:      "Evaluation runs by terminal state",
		}, []string{"state"}),
		// Labels: check, result (ok, retry, error)
		attempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "evaluator",
			Name:      "attempts_total",
			Help:      "Evaluator branch attempts by check and result",
		}, []string{"check", "result"}),
		branchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "evaluator",
			Name:      "attempt_duration_seconds",
			Help:      "Evaluator attempt duration in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}, []string{"check"}),
		lastScore: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "evaluator",
			Name:      "last_score",
			Help:      "Most recent score reported per check",
		}, []string{"check"}),
		publishFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "aggregator",
			Name:      "publish_failures_total",
			Help:      "Approved runs whose signal or pointer update failed",
		}),
	}
}

func (m *Metrics) runCompleted(state domain.RunState) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(state)).Inc()
}

func (m *Metrics) attempt(check domain.CheckName, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(check), result).Inc()
	m.branchDuration.WithLabelValues(string(check)).Observe(took.Seconds())
}

func (m *Metrics) score(res domain.CheckResult) {
	if m == nil {
		return
	}
	m.lastScore.WithLabelValues(string(res.Check)).Set(res.Score)
}

func (m *Metrics) publishFailed() {
	if m == nil {
		return
	}
	m.publishFailures.Inc()
}
