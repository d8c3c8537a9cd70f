package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the watch-party service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Lifecycle metrics
	Transitions         *prometheus.CounterVec
	InboundSessions     prometheus.Counter
	SessionsInvalidated prometheus.Counter
	LiveObserverSets    prometheus.Gauge
	CanStartSession     prometheus.Gauge

	// Activation metrics
	ActivationOutcomes *prometheus.CounterVec
	ActivationDuration prometheus.Histogram

	// Peer transport metrics
	PacketsReceived  prometheus.Counter
	PacketsProcessed prometheus.Counter
	PacketsSent      prometheus.Counter
	PacketsDropped   prometheus.Counter
	ParseErrors      prometheus.Counter
	LivePeers        prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
	WebSocketClients    prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Lifecycle metrics
		Transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_lifecycle_transitions_total",
			Help: "Total number of lifecycle state transitions by target phase",
		}, []string{"phase"}),
		InboundSessions: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_sessions_installed_total",
			Help: "Total number of sessions received from the provider and installed",
		}),
		SessionsInvalidated: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_sessions_invalidated_total",
			Help: "Total number of active sessions that reported invalidation",
		}),
		LiveObserverSets: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_observer_sets_live",
			Help: "Number of live per-session observer sets (0 or 1)",
		}),
		CanStartSession: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_can_start_session",
			Help: "1 when a collaborative session can currently be started",
		}),

		// Activation metrics
		ActivationOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_activation_outcomes_total",
			Help: "Total number of outbound activation attempts by outcome",
		}, []string{"outcome"}),
		ActivationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "watchparty_activation_duration_seconds",
			Help:    "Duration of outbound activation attempts",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),

		// Peer transport metrics
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_packets_received_total",
			Help: "Total number of UDP packets received from peers",
		}),
		PacketsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_packets_processed_total",
			Help: "Total number of UDP packets successfully processed",
		}),
		PacketsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_packets_sent_total",
			Help: "Total number of UDP packets sent to peers",
		}),
		PacketsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_packets_dropped_total",
			Help: "Total number of packets or sessions dropped because a queue was full",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "watchparty_parse_errors_total",
			Help: "Total number of packet parsing errors",
		}),
		LivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_live_peers",
			Help: "Current number of peers heard within the peer timeout",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "watchparty_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "watchparty_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
		WebSocketClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "watchparty_websocket_clients",
			Help: "Current number of connected WebSocket clients",
		}),
	}
}

// RecordTransition counts a lifecycle transition into phase
func (m *Metrics) RecordTransition(phase string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(phase).Inc()
}

// RecordSessionInstalled counts an installed session and marks its observer set live
func (m *Metrics) RecordSessionInstalled() {
	if m == nil {
		return
	}
	m.InboundSessions.Inc()
	m.LiveObserverSets.Set(1)
}

// RecordObserverSetReleased marks that no observer set is live
func (m *Metrics) RecordObserverSetReleased() {
	if m == nil {
		return
	}
	m.LiveObserverSets.Set(0)
}

// RecordSessionInvalidated counts an invalidation of the active session
func (m *Metrics) RecordSessionInvalidated() {
	if m == nil {
		return
	}
	m.SessionsInvalidated.Inc()
}

// SetCanStartSession mirrors the eligibility flag
func (m *Metrics) SetCanStartSession(eligible bool) {
	if m == nil {
		return
	}
	if eligible {
		m.CanStartSession.Set(1)
	} else {
		m.CanStartSession.Set(0)
	}
}

// RecordActivation records the outcome and duration of an outbound attempt
func (m *Metrics) RecordActivation(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActivationOutcomes.WithLabelValues(outcome).Inc()
	m.ActivationDuration.Observe(durationSeconds)
}

// RecordPacketReceived increments the packets received counter
func (m *Metrics) RecordPacketReceived() {
	if m == nil {
		return
	}
	m.PacketsReceived.Inc()
}

// RecordPacketProcessed increments the packets processed counter
func (m *Metrics) RecordPacketProcessed() {
	if m == nil {
		return
	}
	m.PacketsProcessed.Inc()
}

// RecordPacketSent increments the packets sent counter
func (m *Metrics) RecordPacketSent() {
	if m == nil {
		return
	}
	m.PacketsSent.Inc()
}

// RecordPacketDropped increments the dropped counter
func (m *Metrics) RecordPacketDropped() {
	if m == nil {
		return
	}
	m.PacketsDropped.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}

// SetLivePeers sets the current number of live peers
func (m *Metrics) SetLivePeers(count int) {
	if m == nil {
		return
	}
	m.LivePeers.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}

// SetWebSocketClients sets the number of connected WebSocket clients
func (m *Metrics) SetWebSocketClients(count int) {
	if m == nil {
		return
	}
	m.WebSocketClients.Set(float64(count))
}
