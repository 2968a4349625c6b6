// Package metrics provides Prometheus metrics for meshstore.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the Prometheus registry for all meshstore metrics.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(collectors.NewGoCollector())
	Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
}

// DiscoveryMetrics holds metrics for the discovery service.
type DiscoveryMetrics struct {
	RegisteredNodes prometheus.Gauge
	JoinsTotal      prometheus.Counter
	PushesTotal     prometheus.Counter
	PushFailures    prometheus.Counter
	EvictionsTotal  prometheus.Counter
}

// NewDiscoveryMetrics registers discovery metrics with reg. Tests pass a
// private registry so parallel instances don't collide.
func NewDiscoveryMetrics(reg prometheus.Registerer) *DiscoveryMetrics {
	return &DiscoveryMetrics{
		RegisteredNodes: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meshstore_discovery_registered_nodes",
			Help: "Nodes currently present in the discovery registry",
		}),
		JoinsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_discovery_joins_total",
			Help: "Total join requests handled",
		}),
		PushesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_discovery_pushes_total",
			Help: "Total membership pushes attempted",
		}),
		PushFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_discovery_push_failures_total",
			Help: "Membership pushes that failed or were not acknowledged",
		}),
		EvictionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_discovery_evictions_total",
			Help: "Nodes evicted after consecutive missed updates",
		}),
	}
}

// NodeMetrics holds metrics for a storage node.
type NodeMetrics struct {
	KnownPeers        prometheus.Gauge
	ResolutionsTotal  prometheus.Counter
	PeerQueryFailures prometheus.Counter
	FetchesTotal      prometheus.Counter
	FetchBytesTotal   prometheus.Counter
	UploadsTotal      prometheus.Counter
	PeerRequests      *prometheus.CounterVec
}

// NewNodeMetrics registers node metrics with reg.
func NewNodeMetrics(reg prometheus.Registerer) *NodeMetrics {
	return &NodeMetrics{
		KnownPeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "meshstore_node_known_peers",
			Help: "Peers currently in the cached membership listing",
		}),
		ResolutionsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_node_resolutions_total",
			Help: "Total conflict resolutions performed",
		}),
		PeerQueryFailures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_node_peer_query_failures_total",
			Help: "Peer timestamp queries that failed or returned garbage",
		}),
		FetchesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_node_fetches_total",
			Help: "Files fetched from an authoritative peer",
		}),
		FetchBytesTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_node_fetch_bytes_total",
			Help: "Total bytes fetched from peers",
		}),
		UploadsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "meshstore_node_uploads_total",
			Help: "Files accepted via the client API",
		}),
		PeerRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "meshstore_node_peer_requests_total",
			Help: "Peer protocol requests served, by verb",
		}, []string{"verb"}),
	}
}
