package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	detectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetrack_detections_accepted_total",
		Help: "Detections that became new accepted check-in events.",
	})
	detectionsSuppressed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetrack_detections_suppressed_total",
		Help: "Detections discarded inside the duplicate-suppression window.",
	})
	detectionsRefreshed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "facetrack_detections_refreshed_total",
		Help: "Repeat sightings that refreshed an existing event after the window.",
	})
)
