package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Channel metrics
	ChannelsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rpcobserver_channels_active",
			Help: "Number of channels with at least one handler",
		},
	)

	SourcesRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcobserver_sources_running",
			Help: "Running event sources by source name",
		},
		[]string{"source"},
	)

	EventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcobserver_events_emitted_total",
			Help: "Events delivered to at least one handler, by channel and event",
		},
		[]string{"channel", "event"},
	)

	// Provider metrics
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rpcobserver_provider_attempts_total",
			Help: "Request attempts by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	ProviderRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpcobserver_provider_request_duration_seconds",
			Help:    "Logical request duration including retries, by method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	EndpointAlive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rpcobserver_endpoint_alive",
			Help: "Whether the endpoint is currently assumed alive (1) or cooling down (0)",
		},
		[]string{"endpoint"},
	)

	// Multicall metrics
	MulticallBatchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rpcobserver_multicall_batch_size",
			Help:    "Number of calls aggregated into one multicall",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	MulticallFailedCalls = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rpcobserver_multicall_failed_calls_total",
			Help: "Sub-calls reported as failed by the aggregator",
		},
	)
)

// Outcome labels for ProviderAttempts
const (
	OutcomeSuccess   = "success"
	OutcomeRetryable = "retryable"
	OutcomeFatal     = "fatal"
)

func init() {
	prometheus.MustRegister(ChannelsActive)
	prometheus.MustRegister(SourcesRunning)
	prometheus.MustRegister(EventsEmitted)
	prometheus.MustRegister(ProviderAttempts)
	prometheus.MustRegister(ProviderRequestDuration)
	prometheus.MustRegister(EndpointAlive)
	prometheus.MustRegister(MulticallBatchSize)
	prometheus.MustRegister(MulticallFailedCalls)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation for a histogram
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed seconds on o
func (t *Timer) ObserveDuration(o prometheus.Observer) {
	o.Observe(t.Duration().Seconds())
}
