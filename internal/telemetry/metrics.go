package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	ImportedJobs     = prometheus.NewCounter(prometheus.CounterOpts{Name: "bambuqueue_jobs_imported_total", Help: "Jobs created by the artifact importer"})
	ImportFailures   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bambuqueue_import_failures_total", Help: "Artifact imports that failed"})
	Dispatches       = prometheus.NewCounter(prometheus.CounterOpts{Name: "bambuqueue_dispatches_total", Help: "Jobs dispatched to a printer"})
	DispatchFailures = prometheus.NewCounter(prometheus.CounterOpts{Name: "bambuqueue_dispatch_failures_total", Help: "Dispatch attempts that failed to upload or publish"})
	ReportsHandled   = prometheus.NewCounter(prometheus.CounterOpts{Name: "bambuqueue_reports_handled_total", Help: "Telemetry reports matched to a job"})
	CompletedJobs    = prometheus.NewCounter(prometheus.CounterOpts{Name: "bambuqueue_jobs_completed_total", Help: "Jobs observed completing"})
	ReadyImports     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "bambuqueue_ready_imports", Help: "Files in the import directory ready to ingest"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			ImportedJobs,
			ImportFailures,
			Dispatches,
			DispatchFailures,
			ReportsHandled,
			CompletedJobs,
			ReadyImports,
		)
	})
	return promhttp.Handler()
}
