package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Business metrics
	CodesIssued        prometheus.Counter
	ClicksTracked      *prometheus.CounterVec
	AttributionResults *prometheus.CounterVec
	RewardsDistributed *prometheus.CounterVec
	LedgerReconciled   prometheus.Counter

	// Webhook metrics
	WebhooksReceived *prometheus.CounterVec
	WebhooksRejected *prometheus.CounterVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBConnections   prometheus.Gauge
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: []float64{100, 1000, 5000, 10000, 50000, 100000, 500000, 1000000},
			},
			[]string{"method", "path"},
		),

		// Business metrics
		CodesIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "referral_codes_issued_total",
			Help: "Total number of referral codes issued",
		}),
		ClicksTracked: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "referral_clicks_total",
				Help: "Total number of referral clicks tracked",
			},
			[]string{"unique"}, // true, false
		),
		AttributionResults: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "attributions_total",
				Help: "Total number of attribution outcomes",
			},
			[]string{"result"}, // credited, duplicate, or rejection reason
		),
		RewardsDistributed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rewards_distributed_total",
				Help: "Total number of rewards written to the ledger",
			},
			[]string{"output"}, // wallet, cashback, points, coupon
		),
		LedgerReconciled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ledger_entries_reconciled_total",
			Help: "Total number of stuck ledger entries completed by the reconciler",
		}),

		// Webhook metrics
		WebhooksReceived: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_received_total",
				Help: "Total number of webhooks received",
			},
			[]string{"topic"},
		),
		WebhooksRejected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhooks_rejected_total",
				Help: "Total number of webhooks rejected before processing",
			},
			[]string{"reason"}, // bad_hmac, duplicate, bad_payload
		),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Database query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"operation"},
		),
		DBConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of active database connections",
		}),
	}

	return m
}

// Middleware creates an Echo middleware for Prometheus metrics
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			path := c.Path() // Use route pattern, not actual path (e.g., /api/v1/campaigns/:id)

			if req.ContentLength > 0 {
				m.HTTPRequestSize.WithLabelValues(req.Method, path).Observe(float64(req.ContentLength))
			}

			err := next(c)

			status := c.Response().Status
			duration := time.Since(start).Seconds()

			m.HTTPRequestsTotal.WithLabelValues(req.Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(req.Method, path, strconv.Itoa(status)).Observe(duration)
			m.HTTPResponseSize.WithLabelValues(req.Method, path).Observe(float64(c.Response().Size))

			return err
		}
	}
}

// RecordCodeIssued increments the issued-codes counter
func (m *Metrics) RecordCodeIssued() {
	m.CodesIssued.Inc()
}

// RecordClick increments the clicks counter
func (m *Metrics) RecordClick(unique bool) {
	m.ClicksTracked.WithLabelValues(strconv.FormatBool(unique)).Inc()
}

// RecordAttribution increments the attribution outcome counter
func (m *Metrics) RecordAttribution(result string) {
	m.AttributionResults.WithLabelValues(result).Inc()
}

// RecordRewardDistributed increments the rewards counter per output type
func (m *Metrics) RecordRewardDistributed(output string) {
	m.RewardsDistributed.WithLabelValues(output).Inc()
}

// RecordWebhookReceived increments the webhooks-received counter
func (m *Metrics) RecordWebhookReceived(topic string) {
	m.WebhooksReceived.WithLabelValues(topic).Inc()
}

// RecordWebhookRejected increments the webhooks-rejected counter
func (m *Metrics) RecordWebhookRejected(reason string) {
	m.WebhooksRejected.WithLabelValues(reason).Inc()
}

// RecordDBQuery records database query duration
func (m *Metrics) RecordDBQuery(operation string, duration time.Duration) {
	m.DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateDBConnections updates active database connections gauge
func (m *Metrics) UpdateDBConnections(count float64) {
	m.DBConnections.Set(count)
}
