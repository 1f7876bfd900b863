package saga

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sagaExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_executions_total",
			Help: "Total number of saga executions by outcome",
		},
		[]string{"saga", "outcome"},
	)

	sagaStepTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_step_total",
			Help: "Total number of saga step executions by outcome",
		},
		[]string{"saga", "step", "outcome"},
	)

	sagaStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Saga step action duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"saga", "step"},
	)

	sagaCompensationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_compensation_total",
			Help: "Total number of compensating actions by outcome",
		},
		[]string{"saga", "step", "outcome"},
	)
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

// MetricsObserver records Prometheus metrics for saga executions.
type MetricsObserver struct {
	NopObserver
}

// NewMetricsObserver returns an observer backed by the package's collectors.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (m *MetricsObserver) StepSucceeded(_ context.Context, ev Event) {
	sagaStepTotal.WithLabelValues(ev.Saga, ev.Step, outcomeSuccess).Inc()
	sagaStepDuration.WithLabelValues(ev.Saga, ev.Step).Observe(ev.Duration.Seconds())
}

func (m *MetricsObserver) StepFailed(_ context.Context, ev Event) {
	sagaStepTotal.WithLabelValues(ev.Saga, ev.Step, outcomeFailure).Inc()
	sagaStepDuration.WithLabelValues(ev.Saga, ev.Step).Observe(ev.Duration.Seconds())
}

func (m *MetricsObserver) CompensationSucceeded(_ context.Context, ev Event) {
	sagaCompensationTotal.WithLabelValues(ev.Saga, ev.Step, outcomeSuccess).Inc()
}

func (m *MetricsObserver) CompensationFailed(_ context.Context, ev Event) {
	sagaCompensationTotal.WithLabelValues(ev.Saga, ev.Step, outcomeFailure).Inc()
}

func (m *MetricsObserver) SagaFinished(_ context.Context, ev Event) {
	outcome := outcomeSuccess
	if ev.Err != nil {
		outcome = outcomeFailure
	}
	sagaExecutionsTotal.WithLabelValues(ev.Saga, outcome).Inc()
}
