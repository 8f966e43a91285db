package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "starmap_events_published_total",
	Help: "Total number of change events published to the bus",
}, []string{"entity_type", "operation"})

var subscribersConnected = promauto.NewCounter(prometheus.CounterOpts{
	Name: "starmap_event_subscribers_connected_total",
	Help: "Total number of subscriber registrations",
})

var subscribersDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "starmap_event_subscribers_dropped_total",
	Help: "Subscribers disconnected for not keeping up with delivery",
})

var subscribersActive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "starmap_event_subscribers_active",
	Help: "Number of currently registered subscribers",
})
