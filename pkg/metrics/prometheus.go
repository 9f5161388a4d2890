package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"TrendConfirm/internal/domain/models"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	bars        *prometheus.CounterVec
	detections  *prometheus.CounterVec
	transitions *prometheus.CounterVec
	degraded    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	intents     *prometheus.CounterVec
	intentSize  *prometheus.GaugeVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New registers the recorder on the default registry.
func New() *Recorder {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the recorder on reg.
func NewWithRegisterer(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		bars: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_bars_total",
				Help: "Closed bars processed",
			},
			[]string{"symbol", "tf"},
		),
		detections: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_detections_total",
				Help: "Non-None detections by source and direction",
			},
			[]string{"symbol", "source", "direction"},
		),
		transitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_confirmation_transitions_total",
				Help: "Confirmation state machine transitions",
			},
			[]string{"symbol", "status"},
		),
		degraded: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_degraded_total",
				Help: "Cycles where the classifier path was bypassed",
			},
			[]string{"symbol", "reason"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_dropped_total",
				Help: "Signals or bars dropped",
			},
			[]string{"symbol", "reason"},
		),
		intents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_intents_total",
				Help: "Order intents published",
			},
			[]string{"symbol"},
		),
		intentSize: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trendconfirm_last_intent_size",
				Help: "Size of the last published intent",
			},
			[]string{"symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trendconfirm_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trendconfirm_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordBar(symbol string, tf models.Timeframe) {
	r.bars.WithLabelValues(symbol, string(tf)).Inc()
}

func (r *Recorder) RecordDetection(symbol string, src models.Source, dir models.Direction) {
	r.detections.WithLabelValues(symbol, string(src), dir.String()).Inc()
}

func (r *Recorder) RecordTransition(symbol string, status models.ConfirmationStatus) {
	r.transitions.WithLabelValues(symbol, string(status)).Inc()
}

func (r *Recorder) RecordDegraded(symbol, reason string) {
	r.degraded.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) RecordDropped(symbol, reason string) {
	r.dropped.WithLabelValues(symbol, reason).Inc()
}

func (r *Recorder) RecordIntent(symbol string, size float64) {
	r.intents.WithLabelValues(symbol).Inc()
	r.intentSize.WithLabelValues(symbol).Set(size)
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
