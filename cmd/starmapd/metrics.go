package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sseActiveStreams = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "starmap_sse_active_streams",
	Help: "Currently open SSE connections",
}, []string{"entity_type"})

var listCacheHits = promauto.NewCounter(prometheus.CounterOpts{
	Name: "starmap_list_cache_hits",
	Help: "Number of list responses served from the in-process response cache",
})

var listCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
	Name: "starmap_list_cache_misses",
	Help: "Number of list responses rebuilt from a table scan",
})
