// Package metrics tracks the daemon's process-level counters
// (spec.md section 6: status, uptime, cache age, refresh counters,
// active streams) and exposes them two ways: a JSON snapshot for
// GET /v1/metrics and Prometheus gauges/counters for GET /metrics.
// Grounded on the teacher's pkg/metrics/metrics.go (package-level
// prometheus.NewGauge*/NewCounter* vars registered in init) and
// pkg/metrics/collector.go (ticker-driven periodic collect loop),
// re-targeted from cluster/node/raft metrics to daemon uptime and
// cache-freshness metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Up = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_up",
		Help: "Whether the daemon process is running (always 1 while scraped)",
	})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_uptime_seconds",
		Help: "Seconds since the daemon started",
	})

	CacheAgeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_cache_age_seconds",
		Help: "Seconds since the runtime cache's last successful refresh",
	})

	// Gauges, not counters: the runtime cache owns the authoritative
	// monotonic count and these merely mirror its current value on
	// every collect tick.
	RefreshTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_refresh_total",
		Help: "Total number of runtime cache refresh attempts",
	})

	RefreshFailuresTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_refresh_failures_total",
		Help: "Total number of failed runtime cache refreshes",
	})

	DockerEventsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_docker_events_total",
		Help: "Total number of docker events observed by the watcher",
	})

	StreamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hackd_streams_active",
		Help: "Number of currently attached job-stream and shell-stream websocket connections",
	})

	JobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hackd_jobs_total",
		Help: "Total number of jobs by terminal status",
	}, []string{"status"})

	APIRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hackd_api_requests_total",
		Help: "Total number of HTTP requests by method and status",
	}, []string{"method", "status"})

	APIRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hackd_api_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)

func init() {
	prometheus.MustRegister(
		Up,
		UptimeSeconds,
		CacheAgeSeconds,
		RefreshTotal,
		RefreshFailuresTotal,
		DockerEventsTotal,
		StreamsActive,
		JobsTotal,
		APIRequestsTotal,
		APIRequestDuration,
	)
}

// Snapshot is the JSON body served at GET /v1/metrics.
type Snapshot struct {
	Status          string `json:"status"`
	StartedAt       string `json:"started_at"`
	UptimeMs        int64  `json:"uptime_ms"`
	CacheUpdatedAt  string `json:"cache_updated_at,omitempty"`
	CacheAgeMs      int64  `json:"cache_age_ms"`
	LastRefreshAt   string `json:"last_refresh_at,omitempty"`
	RefreshCount    int64  `json:"refresh_count"`
	RefreshFailures int64  `json:"refresh_failures"`
	LastEventAt     string `json:"last_event_at,omitempty"`
	EventsSeen      int64  `json:"events_seen"`
	StreamsActive   int64  `json:"streams_active"`
}

// CacheStats is the subset of runtimecache.Stats the Collector needs;
// declared here (rather than imported) to avoid a dependency cycle
// between metrics and runtimecache.
type CacheStats struct {
	CacheUpdatedAtMs int64
	LastRefreshAt    time.Time
	RefreshCount     int64
	RefreshFailures  int64
	LastEventAt      time.Time
	EventsSeen       int64
}

// Collector periodically samples the daemon's components and updates
// both the Prometheus gauges and an in-memory Snapshot, following the
// teacher's ticker-driven Collector.Start/Stop shape.
type Collector struct {
	startedAt time.Time
	statsFn   func() CacheStats
	streamsFn func() int64

	stopCh chan struct{}
}

// NewCollector creates a Collector. statsFn and streamsFn are sampled on
// every tick and on demand from Snapshot.
func NewCollector(startedAt time.Time, statsFn func() CacheStats, streamsFn func() int64) *Collector {
	return &Collector{
		startedAt: startedAt,
		statsFn:   statsFn,
		streamsFn: streamsFn,
		stopCh:    make(chan struct{}),
	}
}

// Start begins the 15-second collection loop in the background.
func (c *Collector) Start() {
	Up.Set(1)
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	UptimeSeconds.Set(time.Since(c.startedAt).Seconds())

	stats := c.statsFn()
	if stats.CacheUpdatedAtMs > 0 {
		age := time.Since(time.UnixMilli(stats.CacheUpdatedAtMs))
		CacheAgeSeconds.Set(age.Seconds())
	}
	RefreshTotal.Set(float64(stats.RefreshCount))
	RefreshFailuresTotal.Set(float64(stats.RefreshFailures))
	DockerEventsTotal.Set(float64(stats.EventsSeen))

	if c.streamsFn != nil {
		StreamsActive.Set(float64(c.streamsFn()))
	}
}

// Snapshot returns the current JSON-serializable metrics view.
func (c *Collector) Snapshot() Snapshot {
	stats := c.statsFn()
	now := time.Now()

	var streams int64
	if c.streamsFn != nil {
		streams = c.streamsFn()
	}

	snap := Snapshot{
		Status:          "ok",
		StartedAt:       c.startedAt.Format(time.RFC3339),
		UptimeMs:        now.Sub(c.startedAt).Milliseconds(),
		RefreshCount:    stats.RefreshCount,
		RefreshFailures: stats.RefreshFailures,
		EventsSeen:      stats.EventsSeen,
		StreamsActive:   streams,
	}
	if stats.CacheUpdatedAtMs > 0 {
		updated := time.UnixMilli(stats.CacheUpdatedAtMs)
		snap.CacheUpdatedAt = updated.Format(time.RFC3339)
		snap.CacheAgeMs = now.Sub(updated).Milliseconds()
	}
	if !stats.LastRefreshAt.IsZero() {
		snap.LastRefreshAt = stats.LastRefreshAt.Format(time.RFC3339)
	}
	if !stats.LastEventAt.IsZero() {
		snap.LastEventAt = stats.LastEventAt.Format(time.RFC3339)
	}
	return snap
}
