package monitoring

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/triunity/node/logx"
)

type nodePromMetrics struct {
	nodeUpUnixSeconds  prometheus.Gauge
	blockHeight        prometheus.Gauge
	syncTargetHeight   prometheus.Gauge
	syncProgress       prometheus.Gauge
	pendingBlocks      prometheus.Gauge
	rejectedBlockCount *prometheus.CounterVec
	appliedBlockCount  prometheus.Counter
	blockSizeBytes     prometheus.Histogram
	txInBlock          prometheus.Histogram
	peerCount          prometheus.Gauge
	peerReliability    *prometheus.GaugeVec
	syncMode           *prometheus.GaugeVec
	consensusPath      *prometheus.GaugeVec
	aiConfidence       prometheus.Gauge
	networkStressed    prometheus.Gauge
	tpsTrend           prometheus.Gauge
	finalityTimeMs     prometheus.Gauge
	panicCount         prometheus.Counter
}

func newNodePromMetrics() *nodePromMetrics {
	return &nodePromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_up_timestamp_unix_seconds",
			Help: "Unix timestamp of the node start",
		}),
		blockHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_block_height",
			Help: "Height of the last applied block",
		}),
		syncTargetHeight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_sync_target_height",
			Help: "Highest height reported by peers when the current sync started",
		}),
		syncProgress: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_sync_progress_percent",
			Help: "Current height as a percentage of the sync target",
		}),
		pendingBlocks: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_pending_blocks",
			Help: "Validated blocks waiting for a gap below them to fill",
		}),
		rejectedBlockCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "triunity_node_rejected_blocks_total",
			Help: "Blocks dropped during sync, by reason",
		}, []string{"reason"}),
		appliedBlockCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "triunity_node_applied_blocks_total",
			Help: "Blocks applied to the local chain",
		}),
		blockSizeBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "triunity_node_block_size_bytes",
			Help:    "Encoded size of applied blocks",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		}),
		txInBlock: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "triunity_node_tx_in_block",
			Help:    "Number of tx in applied blocks",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		peerCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_sync_peer_count",
			Help: "Peers tracked by the sync manager",
		}),
		peerReliability: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triunity_node_peer_reliability",
			Help: "Reliability score of each sync peer",
		}, []string{"peer"}),
		syncMode: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triunity_node_sync_mode",
			Help: "1 for the active sync mode, 0 otherwise",
		}, []string{"mode"}),
		consensusPath: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "triunity_node_consensus_path",
			Help: "1 for the selected consensus path, 0 otherwise",
		}, []string{"path"}),
		aiConfidence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_ai_confidence",
			Help: "Router confidence in current network conditions",
		}),
		networkStressed: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_network_stressed",
			Help: "1 while congestion, attack or resource pressure is past its stress level",
		}),
		tpsTrend: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_tps_trend",
			Help: "Relative TPS change across the most recent quarter of readings",
		}),
		finalityTimeMs: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "triunity_node_consensus_finality_ms",
			Help: "Finality time of the agreement protocol behind the selected path",
		}),
		panicCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "triunity_node_panic_count",
			Help: "Recovered panics in background goroutines",
		}),
	}
}

var (
	metricsOnce sync.Once
	nodeMetrics *nodePromMetrics
)

func metrics() *nodePromMetrics {
	metricsOnce.Do(func() {
		nodeMetrics = newNodePromMetrics()
		nodeMetrics.nodeUpUnixSeconds.SetToCurrentTime()
	})
	return nodeMetrics
}

// InitMetrics registers the node metrics with the default registry.
func InitMetrics() {
	metrics()
}

func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "Registering prometheus metrics")
	metrics()
	mux.Handle("/metrics", promhttp.Handler())
}

func SetBlockHeight(height uint64) {
	metrics().blockHeight.Set(float64(height))
}

func SetSyncTargetHeight(height uint64) {
	metrics().syncTargetHeight.Set(float64(height))
}

func SetSyncProgress(percent float64) {
	metrics().syncProgress.Set(percent)
}

func SetPendingBlocks(n int) {
	metrics().pendingBlocks.Set(float64(n))
}

func RecordRejectedBlock(reason string) {
	metrics().rejectedBlockCount.With(prometheus.Labels{"reason": reason}).Inc()
}

func RecordAppliedBlock(sizeBytes, txCount int) {
	m := metrics()
	m.appliedBlockCount.Inc()
	m.blockSizeBytes.Observe(float64(sizeBytes))
	m.txInBlock.Observe(float64(txCount))
}

func SetPeerCount(peers int) {
	metrics().peerCount.Set(float64(peers))
}

func SetPeerReliability(peer string, reliability float64) {
	metrics().peerReliability.With(prometheus.Labels{"peer": peer}).Set(reliability)
}

func RemovePeer(peer string) {
	metrics().peerReliability.Delete(prometheus.Labels{"peer": peer})
}

// SetSyncMode marks mode active among all known modes.
func SetSyncMode(mode string, all []string) {
	m := metrics()
	for _, name := range all {
		m.syncMode.With(prometheus.Labels{"mode": name}).Set(0)
	}
	m.syncMode.With(prometheus.Labels{"mode": mode}).Set(1)
}

// SetConsensusPath marks path active among all known paths.
func SetConsensusPath(path string, all []string) {
	m := metrics()
	for _, name := range all {
		m.consensusPath.With(prometheus.Labels{"path": name}).Set(0)
	}
	m.consensusPath.With(prometheus.Labels{"path": path}).Set(1)
}

func SetAIConfidence(confidence float64) {
	metrics().aiConfidence.Set(confidence)
}

func SetNetworkStressed(stressed bool) {
	v := 0.0
	if stressed {
		v = 1
	}
	metrics().networkStressed.Set(v)
}

func SetTPSTrend(trend float64) {
	metrics().tpsTrend.Set(trend)
}

func SetFinalityTime(ms uint64) {
	metrics().finalityTimeMs.Set(float64(ms))
}

func IncreasePanicCount() {
	metrics().panicCount.Inc()
}
