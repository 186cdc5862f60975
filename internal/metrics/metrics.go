package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var totalDecodeSteps atomic.Int64

var (
	DecodeStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssm_decode_steps_total",
		Help: "The total number of single-token decode steps executed",
	})

	PrefillTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssm_prefill_tokens_total",
		Help: "The total number of tokens processed in full-sequence mode",
	})

	ScanDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ssm_scan_duration_seconds",
		Help:    "Histogram of selective-scan execution times per backend",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "mode"})

	StateCacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssm_state_cache_bytes",
		Help: "Current bytes held by inference state caches",
	})

	StateCacheSlots = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ssm_state_cache_slots",
		Help: "Number of live (layer, batch) runtime states",
	})

	PrecisionViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssm_precision_violations_total",
		Help: "Total decay factors outside (0,1] reported by a backend",
	}, []string{"backend"})

	BackendFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssm_backend_fallbacks_total",
		Help: "Times the accelerated scan backend was unavailable at construction",
	})

	ShapeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ssm_shape_errors_total",
		Help: "Total shape validation failures at call boundaries",
	}, []string{"operation"})

	SegmentResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ssm_segment_resets_total",
		Help: "State resets triggered by packed-sequence segment boundaries",
	})
)

// RecordDecodeStep counts one single-token decode step.
func RecordDecodeStep() {
	DecodeStepsTotal.Inc()
	totalDecodeSteps.Add(1)
}

// RecordPrefill counts tokens processed by a full-sequence pass.
func RecordPrefill(tokens int) {
	PrefillTokensTotal.Add(float64(tokens))
}

// RecordScanDuration observes one scan kernel execution.
func RecordScanDuration(backend, mode string, d time.Duration) {
	ScanDuration.WithLabelValues(backend, mode).Observe(d.Seconds())
}

// RecordStateCacheStats updates cache occupancy gauges.
func RecordStateCacheStats(bytes int64, slots int) {
	StateCacheBytes.Set(float64(bytes))
	StateCacheSlots.Set(float64(slots))
}

// RecordPrecisionViolation counts a decay factor outside (0,1].
func RecordPrecisionViolation(backend string) {
	PrecisionViolations.WithLabelValues(backend).Inc()
}

// RecordBackendFallback counts a silent degrade to the reference backend.
func RecordBackendFallback() {
	BackendFallbacks.Inc()
}

// RecordShapeError counts a shape validation failure for an operation.
func RecordShapeError(operation string) {
	ShapeErrors.WithLabelValues(operation).Inc()
}

// TotalDecodeSteps returns the process-lifetime decode step count.
func TotalDecodeSteps() int64 {
	return totalDecodeSteps.Load()
}
