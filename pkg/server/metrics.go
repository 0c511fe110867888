package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the server. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	// Connection metrics
	activeConnections prometheus.Gauge
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	authFailures      prometheus.Counter
	listenOverflows   prometheus.Counter

	// Request metrics
	requestsReceived *prometheus.CounterVec // by request type
	repliesSent      *prometheus.CounterVec // by reply type

	// Broadcast metrics
	broadcastFanout   prometheus.Histogram
	broadcastDuration prometheus.Histogram
	broadcastFailures prometheus.Counter

	// Transfer metrics
	pendingTransfers   prometheus.Gauge
	transfersCompleted prometheus.Counter
	transfersDropped   *prometheus.CounterVec // by reason
}

// NewMetrics registers the server metrics on reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabletop_active_connections",
				Help: "Current number of authenticated connections",
			},
		),
		connectionsOpened: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tabletop_connections_opened_total",
				Help: "Total number of accepted connections",
			},
		),
		connectionsClosed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tabletop_connections_closed_total",
				Help: "Total number of closed connections",
			},
		),
		authFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tabletop_auth_failures_total",
				Help: "Total number of rejected auth requests",
			},
		),
		listenOverflows: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tabletop_listen_overflows_total",
				Help: "Connections dropped by the kernel because the accept queue was full",
			},
		),
		requestsReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabletop_requests_received_total",
				Help: "Total number of requests received from clients by type",
			},
			[]string{"type"},
		),
		repliesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabletop_replies_sent_total",
				Help: "Total number of direct replies sent to clients by type",
			},
			[]string{"type"},
		),
		broadcastFanout: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tabletop_broadcast_fanout",
				Help:    "Number of connections that received each broadcast message",
				Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
			},
		),
		broadcastDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tabletop_broadcast_duration_seconds",
				Help:    "Time taken to deliver a broadcast to every member",
				Buckets: prometheus.DefBuckets,
			},
		),
		broadcastFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tabletop_broadcast_failures_total",
				Help: "Total number of failed broadcast deliveries",
			},
		),
		pendingTransfers: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "tabletop_pending_transfers",
				Help: "Current number of incomplete chunked transfers",
			},
		),
		transfersCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tabletop_transfers_completed_total",
				Help: "Total number of chunked transfers that completed",
			},
		),
		transfersDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tabletop_transfers_dropped_total",
				Help: "Total number of chunked transfers discarded before completion",
			},
			[]string{"reason"}, // "closed", "expired" or "overflow"
		),
	}
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RecordActiveConnections updates the authenticated connection count
func (m *Metrics) RecordActiveConnections(count int) {
	if m == nil {
		return
	}
	m.activeConnections.Set(float64(count))
}

func (m *Metrics) RecordConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsOpened.Inc()
}

func (m *Metrics) RecordConnectionClosed() {
	if m == nil {
		return
	}
	m.connectionsClosed.Inc()
}

func (m *Metrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}

func (m *Metrics) RecordListenOverflows(n uint64) {
	if m == nil {
		return
	}
	m.listenOverflows.Add(float64(n))
}

// RecordRequest increments the received counter for a request type
func (m *Metrics) RecordRequest(msgType string) {
	if m == nil {
		return
	}
	m.requestsReceived.WithLabelValues(msgType).Inc()
}

// RecordReply increments the sent counter for a reply type
func (m *Metrics) RecordReply(msgType string) {
	if m == nil {
		return
	}
	m.repliesSent.WithLabelValues(msgType).Inc()
}

// RecordBroadcast records the outcome of one broadcast
func (m *Metrics) RecordBroadcast(delivered, failed int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.broadcastFanout.Observe(float64(delivered))
	m.broadcastDuration.Observe(durationSeconds)
	m.broadcastFailures.Add(float64(failed))
}

func (m *Metrics) RecordPendingTransfers(count int) {
	if m == nil {
		return
	}
	m.pendingTransfers.Set(float64(count))
}

func (m *Metrics) RecordTransferCompleted() {
	if m == nil {
		return
	}
	m.transfersCompleted.Inc()
}

// RecordTransfersDropped counts transfers discarded for reason
func (m *Metrics) RecordTransfersDropped(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.transfersDropped.WithLabelValues(reason).Add(float64(n))
}
