package cachemgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "starmap_cache_reads_total",
	Help: "Cache read outcomes through the cache manager",
}, []string{"outcome"})
