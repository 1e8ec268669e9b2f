// Package metrics содержит Prometheus-метрики жизненного цикла пробных периодов.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Lifecycle хранит счётчики переходов, событий подписки и запусков очистки.
type Lifecycle struct {
	trialTransitions   *prometheus.CounterVec
	subscriptionEvents *prometheus.CounterVec
	cleanupRuns        *prometheus.CounterVec
	cleanupCandidates  *prometheus.CounterVec
	cleanupDuration    prometheus.Histogram
}

var (
	instance *Lifecycle
	once     sync.Once
)

// Get возвращает единственный экземпляр метрик, зарегистрированный в prometheus.DefaultRegisterer.
func Get() *Lifecycle {
	once.Do(func() {
		instance = newLifecycle()
		instance.register(prometheus.DefaultRegisterer)
	})
	return instance
}

func newLifecycle() *Lifecycle {
	return &Lifecycle{
		trialTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trial",
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Total trial status transitions by source and destination status.",
			},
			[]string{"from_status", "to_status"},
		),
		subscriptionEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trial",
				Subsystem: "subscription",
				Name:      "events_total",
				Help:      "Total processor subscription events by outcome.",
			},
			[]string{"outcome"},
		),
		cleanupRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trial",
				Subsystem: "cleanup",
				Name:      "runs_total",
				Help:      "Total cleanup runs by result.",
			},
			[]string{"result"},
		),
		cleanupCandidates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trial",
				Subsystem: "cleanup",
				Name:      "candidates_total",
				Help:      "Total cleanup candidates by result.",
			},
			[]string{"result"},
		),
		cleanupDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "trial",
				Subsystem: "cleanup",
				Name:      "run_duration_seconds",
				Help:      "Duration of cleanup runs.",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
	}
}

func (m *Lifecycle) register(r prometheus.Registerer) {
	r.MustRegister(
		m.trialTransitions,
		m.subscriptionEvents,
		m.cleanupRuns,
		m.cleanupCandidates,
		m.cleanupDuration,
	)
}

// TrialTransition учитывает переход записи триала.
func (m *Lifecycle) TrialTransition(from, to string) {
	m.trialTransitions.WithLabelValues(from, to).Inc()
}

// SubscriptionEvent учитывает событие подписки с итогом обработки.
func (m *Lifecycle) SubscriptionEvent(outcome string) {
	m.subscriptionEvents.WithLabelValues(outcome).Inc()
}

// CleanupRun учитывает завершённый запуск очистки и его длительность.
func (m *Lifecycle) CleanupRun(result string, took time.Duration) {
	m.cleanupRuns.WithLabelValues(result).Inc()
	m.cleanupDuration.Observe(took.Seconds())
}

// CleanupCandidate учитывает итог обработки одного кандидата.
func (m *Lifecycle) CleanupCandidate(result string) {
	m.cleanupCandidates.WithLabelValues(result).Inc()
}
