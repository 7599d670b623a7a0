// Package metrics exposes the storage node's Prometheus metrics:
// pkg/diskio's operation counters, plus a connection gauge and a
// per-peer replication gauge. No package in this module sets those two
// gauges, so they are exported at their initial zero values.
//
// Package-level collectors registered once in init() against
// prometheus.DefaultRegisterer, served by promhttp.Handler. One
// CounterVec keyed by operation name covers pkg/diskio's counters,
// since the set of operation names can grow without needing a new
// package-level var each time.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	diskioOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdfs_storage_diskio_ops_total",
			Help: "Disk I/O operations by name, as counted by pkg/diskio",
		},
		[]string{"op"},
	)

	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fdfs_storage_connections",
			Help: "Currently open storage-node connections",
		},
	)

	ReplicationPeerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fdfs_storage_replication_peer_up",
			Help: "Whether a replication peer is reachable (1) or offline (0)",
		},
		[]string{"peer"},
	)
)

func init() {
	prometheus.MustRegister(diskioOps)
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(ReplicationPeerStatus)
}

// Handler returns the HTTP handler for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DiskioSink implements diskio.MetricsSink against diskioOps.
type DiskioSink struct{}

func (DiskioSink) IncCounter(name string, delta int64) {
	diskioOps.WithLabelValues(name).Add(float64(delta))
}
