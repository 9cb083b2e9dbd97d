package monitoring

import (
	"time"

	"coordinator/internal/core/domain"
	"coordinator/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	clientsConnected *prometheus.GaugeVec
	pairsActive      prometheus.Gauge

	// Counters
	connectionsTotal  *prometheus.CounterVec
	pairsFormedTotal  prometheus.Counter
	pairsBrokenTotal  *prometheus.CounterVec
	messagesRelayed   *prometheus.CounterVec
	bytesRelayed      *prometheus.CounterVec
	messagesDropped   *prometheus.CounterVec
	decodeErrorsTotal *prometheus.CounterVec
	clientsReaped     prometheus.Counter
	adminActions      *prometheus.CounterVec

	// Histograms
	pingLatency prometheus.Histogram
}

var _ ports.MetricsRecorder = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the broker metrics with reg. Passing nil
// uses the default registerer.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		clientsConnected: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "broker_clients_connected",
			Help: "Number of registered clients by role",
		}, []string{"role"}),

		pairsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "broker_pairs_active",
			Help: "Number of currently paired client pairs",
		}),

		connectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_connections_total",
			Help: "Total number of classified client connections",
		}, []string{"role"}),

		pairsFormedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_pairs_formed_total",
			Help: "Total number of pairs formed",
		}),

		pairsBrokenTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_pairs_broken_total",
			Help: "Total number of pairs broken, by reason",
		}, []string{"reason"}),

		messagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_relayed_total",
			Help: "Total number of messages relayed to a peer",
		}, []string{"kind"}),

		bytesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_relayed_bytes_total",
			Help: "Total number of payload bytes relayed to a peer",
		}, []string{"kind"}),

		messagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_messages_dropped_total",
			Help: "Total number of inbound messages not relayed, by reason",
		}, []string{"reason"}),

		decodeErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_decode_errors_total",
			Help: "Total number of malformed inbound messages",
		}, []string{"kind"}),

		clientsReaped: factory.NewCounter(prometheus.CounterOpts{
			Name: "broker_clients_reaped_total",
			Help: "Total number of clients closed for missing pongs",
		}),

		adminActions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_admin_actions_total",
			Help: "Total number of administrative actions",
		}, []string{"action", "outcome"}),

		pingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "broker_ping_rtt_seconds",
			Help:    "Round-trip time of application pings",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (p *PrometheusCollector) ClientConnected(role domain.Role) {
	p.clientsConnected.WithLabelValues(string(role)).Inc()
	p.connectionsTotal.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) ClientDisconnected(role domain.Role) {
	p.clientsConnected.WithLabelValues(string(role)).Dec()
}

func (p *PrometheusCollector) PairFormed() {
	p.pairsFormedTotal.Inc()
	p.pairsActive.Inc()
}

func (p *PrometheusCollector) PairBroken(reason string) {
	p.pairsBrokenTotal.WithLabelValues(reason).Inc()
	p.pairsActive.Dec()
}

func (p *PrometheusCollector) MessageRelayed(kind domain.MessageKind, size int) {
	p.messagesRelayed.WithLabelValues(string(kind)).Inc()
	p.bytesRelayed.WithLabelValues(string(kind)).Add(float64(size))
}

func (p *PrometheusCollector) MessageDropped(reason string) {
	p.messagesDropped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) DecodeError(kind domain.MessageKind) {
	p.decodeErrorsTotal.WithLabelValues(string(kind)).Inc()
}

func (p *PrometheusCollector) LatencyObserved(rtt time.Duration) {
	p.pingLatency.Observe(rtt.Seconds())
}

func (p *PrometheusCollector) ClientReaped() {
	p.clientsReaped.Inc()
}

func (p *PrometheusCollector) AdminAction(action, outcome string) {
	p.adminActions.WithLabelValues(action, outcome).Inc()
}
