package entitymgr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsDenied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "starmap_requests_denied_total",
	Help: "Requests rejected by the admission gates",
}, []string{"verb", "entity_type"})

var storeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "starmap_store_errors_total",
	Help: "Durable table store call failures",
}, []string{"op"})
