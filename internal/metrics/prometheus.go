// internal/metrics/prometheus.go
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"watchpost/internal/database"
)

// Prometheus metrics
var (
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "watchpost_probe_duration_seconds",
			Help:    "Time spent probing hosts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"host", "status"},
	)

	ProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "watchpost_probes_total",
			Help: "Total number of probes executed",
		},
		[]string{"host", "status"},
	)

	HostStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watchpost_host_status",
			Help: "Current host classification (0=offline, 1=online, 2=unknown)",
		},
		[]string{"host"},
	)

	MonitoredHosts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchpost_hosts_total",
			Help: "Number of hosts being monitored",
		},
	)

	SessionStarted = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchpost_session_started_timestamp_seconds",
			Help: "Start time of the current monitor session",
		},
	)

	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "watchpost_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)
)

type Collector struct {
	store database.Store
}

func NewCollector(store database.Store) *Collector {
	return &Collector{store: store}
}

func (c *Collector) RecordProbe(host string, kind database.EventKind, duration time.Duration) {
	ProbeDuration.WithLabelValues(host, string(kind)).Observe(duration.Seconds())
	ProbesTotal.WithLabelValues(host, string(kind)).Inc()
}

func (c *Collector) UpdateHostStatus(host string, kind database.EventKind) {
	HostStatus.WithLabelValues(host).Set(statusValue(kind))
}

func (c *Collector) SetMonitoredHosts(n int) {
	MonitoredHosts.Set(float64(n))
}

func (c *Collector) SetSessionStarted(startedAt time.Time) {
	SessionStarted.Set(float64(startedAt.Unix()))
}

func (c *Collector) RecordWebSocketConnection(delta int) {
	WebSocketConnections.Add(float64(delta))
}

// UpdateSystemMetrics refreshes gauges from the store so restarts do not
// leave them empty until the first probe lands.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
	hosts, err := c.store.GetHosts(ctx)
	if err != nil {
		return err
	}
	MonitoredHosts.Set(float64(len(hosts)))

	states, err := c.store.GetHostStates(ctx)
	if err != nil {
		return err
	}
	for _, host := range hosts {
		if state, ok := states[host.ID]; ok {
			HostStatus.WithLabelValues(host.Hostname).Set(statusValue(state.Kind))
		}
	}

	return nil
}

func statusValue(kind database.EventKind) float64 {
	switch kind {
	case database.EventOffline:
		return 0
	case database.EventOnline:
		return 1
	default:
		return 2
	}
}
