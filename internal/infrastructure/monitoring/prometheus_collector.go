package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector implements the core services' metrics sink.
type PrometheusCollector struct {
	sessionsActive prometheus.Gauge
	auctionsActive prometheus.Gauge
	viewersCurrent prometheus.Gauge

	bidsAcceptedTotal prometheus.Counter
	bidsStaleTotal    prometheus.Counter
	auctionsResolved  prometheus.Counter

	bidLatency      prometheus.Histogram
	signalsRelayed  *prometheus.CounterVec
	viewersPerTopic *prometheus.GaugeVec
}

func NewPrometheusCollector() *PrometheusCollector {
	return &PrometheusCollector{
		sessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livebid_sessions_active_total",
			Help: "Number of sessions currently live",
		}),

		auctionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livebid_auctions_active_total",
			Help: "Number of auctions currently accepting bids",
		}),

		viewersCurrent: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "livebid_viewers_connected_total",
			Help: "Number of viewer sockets currently connected",
		}),

		bidsAcceptedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livebid_bids_accepted_total",
			Help: "Total bids accepted by the compare-and-set write path",
		}),

		bidsStaleTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livebid_bids_stale_total",
			Help: "Total bid attempts rejected because the price moved first",
		}),

		auctionsResolved: promauto.NewCounter(prometheus.CounterOpts{
			Name: "livebid_auctions_resolved_total",
			Help: "Total auctions resolved to a final state",
		}),

		bidLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "livebid_bid_latency_seconds",
			Help:    "End-to-end latency of accepted bids",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),

		signalsRelayed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "livebid_signals_relayed_total",
			Help: "Signaling envelopes relayed through the gateway",
		}, []string{"type"}),

		viewersPerTopic: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "livebid_session_viewer_count",
			Help: "Viewer sockets per session",
		}, []string{"session_id"}),
	}
}

func (p *PrometheusCollector) SessionStarted() {
	p.sessionsActive.Inc()
}

func (p *PrometheusCollector) SessionEnded() {
	p.sessionsActive.Dec()
}

func (p *PrometheusCollector) AuctionStarted() {
	p.auctionsActive.Inc()
}

func (p *PrometheusCollector) AuctionResolved() {
	p.auctionsActive.Dec()
	p.auctionsResolved.Inc()
}

func (p *PrometheusCollector) BidAccepted(latency time.Duration) {
	p.bidsAcceptedTotal.Inc()
	p.bidLatency.Observe(latency.Seconds())
}

func (p *PrometheusCollector) BidStale() {
	p.bidsStaleTotal.Inc()
}

func (p *PrometheusCollector) SignalRelayed(signalType string) {
	p.signalsRelayed.WithLabelValues(signalType).Inc()
}

func (p *PrometheusCollector) ViewerJoined(sessionID string) {
	p.viewersCurrent.Inc()
	p.viewersPerTopic.WithLabelValues(sessionID).Inc()
}

func (p *PrometheusCollector) ViewerLeft(sessionID string) {
	p.viewersCurrent.Dec()
	p.viewersPerTopic.WithLabelValues(sessionID).Dec()
}

func (p *PrometheusCollector) SessionMetricsCleared(sessionID string) {
	p.viewersPerTopic.DeleteLabelValues(sessionID)
}
