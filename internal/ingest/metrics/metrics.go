package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics covers the connector boundary. A nil *Metrics records nothing.
type Metrics struct {
	FetchDuration *prometheus.HistogramVec
	FetchErrors   *prometheus.CounterVec
	FetchAttempts *prometheus.CounterVec
	BreakerOpened *prometheus.CounterVec
	RawIngestions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "canon_connector_fetch_duration_seconds",
			Help:    "Latency of connector fetches including retries",
			Buckets: prometheus.DefBuckets,
		}, []string{"connector_id", "status"}),
		FetchErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_connector_fetch_errors_total",
			Help: "Connector fetch failures by connector and error category",
		}, []string{"connector_id", "category"}),
		FetchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_connector_fetch_attempts_total",
			Help: "Individual fetch attempts, counting retries",
		}, []string{"connector_id"}),
		BreakerOpened: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_connector_breaker_opened_total",
			Help: "Times a connector circuit breaker opened",
		}, []string{"connector_id"}),
		RawIngestions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "canon_raw_ingestions_total",
			Help: "Raw payloads persisted by connector and result",
		}, []string{"connector_id", "result"}), // result: "stored", "duplicate"
	}
}

func (m *Metrics) ObserveFetch(connectorID string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.FetchDuration.WithLabelValues(connectorID, status).Observe(d.Seconds())
}

func (m *Metrics) IncrementFetchError(connectorID, category string) {
	if m != nil {
		m.FetchErrors.WithLabelValues(connectorID, category).Inc()
	}
}

func (m *Metrics) IncrementAttempt(connectorID string) {
	if m != nil {
		m.FetchAttempts.WithLabelValues(connectorID).Inc()
	}
}

func (m *Metrics) IncrementBreakerOpened(connectorID string) {
	if m != nil {
		m.BreakerOpened.WithLabelValues(connectorID).Inc()
	}
}

func (m *Metrics) IncrementRawIngestion(connectorID string, duplicate bool) {
	if m == nil {
		return
	}
	result := "stored"
	if duplicate {
		result = "duplicate"
	}
	m.RawIngestions.WithLabelValues(connectorID, result).Inc()
}
