package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfd",
			Name:      "download_events_total",
			Help:      "Count of events published by the download engine.",
		},
		[]string{"type"},
	)

	AdmissionRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfd",
			Name:      "admission_rejections_total",
			Help:      "Batches rejected by admission control.",
		},
		[]string{"reason"},
	)

	ActiveTransfers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelfd",
			Name:      "active_transfers",
			Help:      "Number of live (queued, in-progress or paused) transfers.",
		},
	)

	SetupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelfd",
			Name:      "setup_runs_total",
			Help:      "Completed setup pipeline runs by result.",
		},
		[]string{"result"},
	)
)

// Register registers the shelfd metrics into the default registry.
func Register() {
	prometheus.MustRegister(DownloadEvents, AdmissionRejections, ActiveTransfers, SetupRuns)
}
