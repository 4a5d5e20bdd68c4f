package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Переходы конечного автомата по именам событий
	TransitionsTotal *prometheus.CounterVec

	// Итоги подачи подписей: accepted, duplicate, invalid, expired, not_pending, ledger_error
	SignatureSubmissions *prometheus.CounterVec

	// Saturation: сколько заявок сейчас занимает лимит maxActiveRequests
	ActiveRequests prometheus.Gauge

	// Latency внешних вызовов ledger
	LedgerCallDuration *prometheus.HistogramVec

	// Заполненность буфера нотификатора (backpressure)
	NotifierBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TransitionsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "quorumgate_transitions_total",
			Help: "Total number of request state transitions by event.",
		}, []string{"event"}),

		SignatureSubmissions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "quorumgate_signature_submissions_total",
			Help: "Total number of signature submissions by outcome.",
		}, []string{"result"}),

		ActiveRequests: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quorumgate_active_requests",
			Help: "Requests currently counted against the active-request cap.",
		}),

		LedgerCallDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quorumgate_ledger_call_duration_seconds",
			Help:    "Histogram of external ledger call latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"op"}),

		NotifierBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "quorumgate_notifier_buffer_utilization",
			Help: "Current number of events in the notifier buffer.",
		}),
	}
}
