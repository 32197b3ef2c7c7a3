// Package observability holds the prometheus collectors shared by the
// streaming controller.
package observability

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	upstreamLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of transport calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream"},
	)

	tileLoadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tile_loads_total",
			Help: "Tile content loads by outcome.",
		},
		[]string{"outcome"},
	)

	tileLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tile_load_duration_seconds",
			Help:    "Time from dispatch to completion of a tile load.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"outcome"},
	)

	roundsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_rounds_total",
		Help: "Evaluation rounds started.",
	})

	roundDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "evaluation_round_duration_seconds",
		Help:    "Time from traversal start until every load of the round finished.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	roundFailedLoads = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "evaluation_round_failed_loads_total",
		Help: "Tile loads that failed, summed over rounds.",
	})

	roundNodes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "evaluation_round_nodes",
			Help:    "Nodes visited, emitted as candidates and dispatched per round.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
		[]string{"stage"},
	)

	residentTiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "resident_tiles",
		Help: "Tiles fetched successfully this session.",
	})

	inFlightTiles = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "inflight_tiles",
		Help: "Tiles dispatched and not yet completed.",
	})

	cacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_ops_total",
			Help: "Remote cache operations by op and result.",
		},
		[]string{"op", "result"},
	)

	cacheOpSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_op_duration_seconds",
			Help:    "Remote cache operation latency.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	contentCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "content_cache_results_total",
			Help: "Content cache lookups by tier and outcome.",
		},
		[]string{"tier", "outcome"},
	)

	loadEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "load_events_total",
			Help: "Tile load events handed to the event publisher by outcome.",
		},
		[]string{"outcome"},
	)

	viewerClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "viewer_clients",
		Help: "Connected websocket viewers.",
	})
)

var initOnce sync.Once

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, upstreamLatencySeconds,
		tileLoadsTotal, tileLoadSeconds,
		roundsTotal, roundDurationSeconds, roundFailedLoads, roundNodes,
		residentTiles, inFlightTiles,
		cacheOpsTotal, cacheOpSeconds, contentCacheResults,
		loadEventsTotal, viewerClients,
	}
}

// Init registers the collectors once. A nil registerer uses the default
// prometheus registry. Collectors record values whether or not they were
// registered.
func Init(reg prometheus.Registerer) {
	initOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		for _, c := range collectors() {
			_ = reg.Register(c)
		}
	})
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

// HTTPRequests returns the request counter for one label set.
func HTTPRequests(method, route string, status int) prometheus.Counter {
	return httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status))
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream).Observe(durationSeconds)
}

func ObserveTileLoad(outcome string, durationSeconds float64) {
	tileLoadsTotal.WithLabelValues(outcome).Inc()
	tileLoadSeconds.WithLabelValues(outcome).Observe(durationSeconds)
}

func ObserveRoundSelection(visited, candidates, dispatched int) {
	roundsTotal.Inc()
	roundNodes.WithLabelValues("visited").Observe(float64(visited))
	roundNodes.WithLabelValues("candidates").Observe(float64(candidates))
	roundNodes.WithLabelValues("dispatched").Observe(float64(dispatched))
}

func ObserveRound(durationSeconds float64, failed int) {
	roundDurationSeconds.Observe(durationSeconds)
	if failed > 0 {
		roundFailedLoads.Add(float64(failed))
	}
}

func SetResidentTiles(n int) { residentTiles.Set(float64(n)) }

func SetInFlightTiles(n int) { inFlightTiles.Set(float64(n)) }

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cacheOpsTotal.WithLabelValues(op, result).Inc()
	cacheOpSeconds.WithLabelValues(op).Observe(durationSeconds)
}

// CacheOps returns the cache operation counter for one label set.
func CacheOps(op, result string) prometheus.Counter {
	return cacheOpsTotal.WithLabelValues(op, result)
}

func IncContentCache(tier, outcome string) {
	contentCacheResults.WithLabelValues(tier, outcome).Inc()
}

func IncLoadEvent(outcome string) {
	loadEventsTotal.WithLabelValues(outcome).Inc()
}

func LoadEvents(outcome string) prometheus.Counter {
	return loadEventsTotal.WithLabelValues(outcome)
}

func SetViewerClients(n int) { viewerClients.Set(float64(n)) }
