// Package prom exports thread lifecycle metrics to Prometheus.
package prom

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NetPo4ki/isothread/thread"
)

// Metrics is a thread.Observer backed by Prometheus collectors.
type Metrics struct {
	active    prometheus.Gauge
	started   prometheus.Counter
	finished  *prometheus.CounterVec
	cancelled prometheus.Counter
	joins     prometheus.Counter
	duration  prometheus.Histogram
	joinWait  prometheus.Histogram
}

var _ thread.Observer = (*Metrics)(nil)

// New creates the collectors under namespace and registers them on reg.
func New(namespace string, reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threads_active",
			Help:      "Threads started and not yet finished.",
		}),
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_started_total",
			Help:      "Threads whose entry function started.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_finished_total",
			Help:      "Threads finished, by outcome.",
		}, []string{"outcome"}),
		cancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threads_cancelled_total",
			Help:      "Cancellation requests delivered to running threads.",
		}),
		joins: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "thread_joins_total",
			Help:      "Successful joins.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thread_duration_seconds",
			Help:      "Run time of thread entry functions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		joinWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "thread_join_wait_seconds",
			Help:      "Time joiners spent blocked.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	for _, c := range []prometheus.Collector{m.active, m.started, m.finished, m.cancelled, m.joins, m.duration, m.joinWait} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) ThreadStarted(context.Context) {
	m.active.Inc()
	m.started.Inc()
}

func (m *Metrics) ThreadFinished(_ context.Context, dur time.Duration, outcome thread.Outcome) {
	m.active.Dec()
	m.finished.WithLabelValues(outcome.String()).Inc()
	m.duration.Observe(dur.Seconds())
}

func (m *Metrics) ThreadJoined(_ context.Context, wait time.Duration) {
	m.joins.Inc()
	m.joinWait.Observe(wait.Seconds())
}

func (m *Metrics) ThreadCancelled(context.Context) { m.cancelled.Inc() }
