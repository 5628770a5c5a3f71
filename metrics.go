package docchat

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector provides Prometheus metrics for the request pipeline and
// the stream decoder. It is safe for concurrent use.
type MetricsCollector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	cancellationsTotal *prometheus.CounterVec

	streamEvents           *prometheus.CounterVec
	streamTokens           *prometheus.CounterVec
	streamDecodeFailures   *prometheus.CounterVec
	streamCallbackFailures *prometheus.CounterVec

	errorsTotal *prometheus.CounterVec

	registry prometheus.Registerer
}

// NewMetricsCollector creates a metrics collector on the default registerer.
func NewMetricsCollector() *MetricsCollector {
	return NewMetricsCollectorWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates a collector using supplied registerer.
func NewMetricsCollectorWithRegistry(registry prometheus.Registerer) *MetricsCollector {
	mc := &MetricsCollector{
		requestsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(registry).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "docchat_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds, including stream consumption",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(registry).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "docchat_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		cancellationsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_cancellations_total",
				Help: "Total number of requests cancelled, by reason",
			},
			[]string{"reason"},
		),
		streamEvents: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_stream_events_total",
				Help: "Total number of decoded stream events, by kind",
			},
			[]string{"kind"},
		),
		streamTokens: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_stream_tokens_total",
				Help: "Total number of tokens delivered to stream callbacks",
			},
			[]string{"endpoint"},
		),
		streamDecodeFailures: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_stream_decode_failures_total",
				Help: "Total number of stream lines that could not be decoded",
			},
			[]string{"endpoint"},
		),
		streamCallbackFailures: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_stream_callback_failures_total",
				Help: "Total number of stream callback invocations that failed",
			},
			[]string{"endpoint"},
		),
		errorsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "docchat_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
		registry: registry,
	}

	return mc
}

// RecordRequest records request count and duration.
func (mc *MetricsCollector) RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	if mc == nil {
		return
	}

	statusCodeStr := strconv.Itoa(statusCode)
	mc.requestsTotal.WithLabelValues(method, statusCodeStr, endpoint).Inc()
	mc.requestDuration.WithLabelValues(method, statusCodeStr, endpoint).Observe(duration.Seconds())
}

// RecordRequestStart increments in-flight gauge.
func (mc *MetricsCollector) RecordRequestStart(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

// RecordRequestEnd decrements in-flight gauge.
func (mc *MetricsCollector) RecordRequestEnd(method, endpoint string) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(method, endpoint).Dec()
}

// RecordCancellation counts a cancelled request. reason is one of
// "superseded", "prefix" or "all".
func (mc *MetricsCollector) RecordCancellation(reason string) {
	if mc == nil {
		return
	}

	mc.cancellationsTotal.WithLabelValues(reason).Inc()
}

// RecordStreamEvent counts a decoded stream event.
func (mc *MetricsCollector) RecordStreamEvent(kind EventKind) {
	if mc == nil {
		return
	}

	mc.streamEvents.WithLabelValues(kind.String()).Inc()
}

// RecordStreamToken counts a token delivered to a callback.
func (mc *MetricsCollector) RecordStreamToken(endpoint string) {
	if mc == nil {
		return
	}

	mc.streamTokens.WithLabelValues(endpoint).Inc()
}

// RecordStreamDecodeFailure counts a skipped, undecodable line.
func (mc *MetricsCollector) RecordStreamDecodeFailure(endpoint string) {
	if mc == nil {
		return
	}

	mc.streamDecodeFailures.WithLabelValues(endpoint).Inc()
}

// RecordStreamCallbackFailure counts a callback that returned an error or panicked.
func (mc *MetricsCollector) RecordStreamCallbackFailure(endpoint string) {
	if mc == nil {
		return
	}

	mc.streamCallbackFailures.WithLabelValues(endpoint).Inc()
}

// RecordError increments error counter by type.
func (mc *MetricsCollector) RecordError(errorType, method, endpoint string) {
	if mc == nil {
		return
	}

	mc.errorsTotal.WithLabelValues(errorType, method, endpoint).Inc()
}

// GetRegistry exposes the underlying prometheus registerer.
func (mc *MetricsCollector) GetRegistry() prometheus.Registerer {
	return mc.registry
}
