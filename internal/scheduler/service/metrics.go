package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nemanja-m/scheduler/internal/scheduler/core"
)

const (
	resultSuccess     = "success"
	resultInvalid     = "invalid"
	resultBrokerError = "broker_error"
	resultFailed      = "failed"
)

// Metrics records dispatch outcomes. A nil *Metrics records nothing.
type Metrics struct {
	jobs     *prometheus.CounterVec
	tasks    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the dispatcher collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		jobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_jobs_dispatched_total",
			Help: "Jobs handled by the dispatcher, by result.",
		}, []string{"result"}),
		tasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "scheduler_tasks_published_total",
			Help: "Tasks published to role queues.",
		}, []string{"role"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_dispatch_duration_seconds",
			Help:    "Time to create queues and publish every task of a job.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

func (m *Metrics) observeJob(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(result).Inc()
	if result != resultInvalid {
		m.duration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) observeTasks(role core.Role, n int) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(string(role)).Add(float64(n))
}

func classify(err error) string {
	var perr *core.ParameterError
	switch {
	case errors.Is(err, core.ErrInvalidJob), errors.As(err, &perr):
		return resultInvalid
	case errors.Is(err, core.ErrBrokerConnection), errors.Is(err, core.ErrQueueNotFound):
		return resultBrokerError
	default:
		return resultFailed
	}
}
